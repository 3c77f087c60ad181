package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/bluefx/bluefx-server/internal/apikey/domain"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	"github.com/bluefx/bluefx-server/internal/config"
	creditdomain "github.com/bluefx/bluefx-server/internal/credit/domain"
	"github.com/bluefx/bluefx-server/internal/observability"
	obslogger "github.com/bluefx/bluefx-server/internal/observability/logger"
	obsmetrics "github.com/bluefx/bluefx-server/internal/observability/metrics"
	predictiondomain "github.com/bluefx/bluefx-server/internal/prediction/domain"
	"github.com/bluefx/bluefx-server/internal/ratelimit"
	"github.com/bluefx/bluefx-server/internal/webhook"
	"github.com/bluefx/bluefx-server/internal/workflow"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Log:             log,
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	genID           *snowflake.Node
	apiKeySvc       apikeydomain.Service
	workflowSvc     workflow.Service
	creditSvc       creditdomain.Service
	artifactSvc     artifactdomain.Service
	predictionSvc   predictiondomain.Service
	webhookSvc      webhook.Service
	generateLimiter *ratelimit.GenerateLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	GenID         *snowflake.Node
	APIKeySvc     apikeydomain.Service
	WorkflowSvc   workflow.Service
	CreditSvc     creditdomain.Service
	ArtifactSvc   artifactdomain.Service
	PredictionSvc predictiondomain.Service
	WebhookSvc    webhook.Service

	GenerateLimiter *ratelimit.GenerateLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		genID:           p.GenID,
		apiKeySvc:       p.APIKeySvc,
		workflowSvc:     p.WorkflowSvc,
		creditSvc:       p.CreditSvc,
		artifactSvc:     p.ArtifactSvc,
		predictionSvc:   p.PredictionSvc,
		webhookSvc:      p.WebhookSvc,
		generateLimiter: p.GenerateLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.APIKeyRequired())

	v1.POST("/generations/:tool", s.GenerateRateLimit(), s.Generate)

	v1.GET("/credits", s.GetCredits)

	v1.GET("/artifacts", s.ListArtifacts)
	v1.DELETE("/artifacts/:id", s.DeleteArtifact)

	v1.GET("/predictions/:id", s.GetPredictionByID)

	v1.GET("/api-keys", s.ListAPIKeys)
	v1.POST("/api-keys", s.CreateAPIKey)
	v1.POST("/api-keys/:key_id/revoke", s.RevokeAPIKey)
}

func (s *Server) registerWebhookRoutes() {
	api := s.engine.Group("/api")

	// Authenticated by signature, not API key.
	api.POST("/webhooks/replicate-ai", s.HandleReplicateWebhook)
}
