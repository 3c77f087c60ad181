package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Providers ProviderConfig
	Scheduler SchedulerConfig

	// PricingOverrides maps tool id to a credit cost override, parsed from
	// PRICING_OVERRIDES as "tool=cost,tool=cost".
	PricingOverrides map[string]int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled       bool
	GenerateRate  float64
	GenerateBurst int
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is the externally reachable prefix for stored objects.
	PublicBaseURL string
}

type ProviderConfig struct {
	ReplicateToken         string
	ReplicateWebhookSecret string
	ReplicateBaseURL       string
	OpenAIKey              string
	OpenAIBaseURL          string
	GoogleAPIKey           string
	// WebhookBaseURL is this service's externally reachable prefix, used to
	// register completion webhooks on provider jobs.
	WebhookBaseURL string
}

type SchedulerConfig struct {
	Enabled          bool
	IntervalSeconds  int
	StaleAfterSecond int
	BatchSize        int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "bluefx"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "bluefx"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			GenerateRate:  getenvFloat("RATE_LIMIT_GENERATE_RATE", 0.5),
			GenerateBurst: int(getenvInt64("RATE_LIMIT_GENERATE_BURST", 5)),
		},
		Storage: StorageConfig{
			Endpoint:      getenv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:     getenv("STORAGE_ACCESS_KEY", ""),
			SecretKey:     getenv("STORAGE_SECRET_KEY", ""),
			Bucket:        getenv("STORAGE_BUCKET", "bluefx-generations"),
			UseSSL:        getenvBool("STORAGE_USE_SSL", false),
			PublicBaseURL: getenv("STORAGE_PUBLIC_BASE_URL", ""),
		},
		Providers: ProviderConfig{
			ReplicateToken:         strings.TrimSpace(getenv("REPLICATE_API_TOKEN", "")),
			ReplicateWebhookSecret: strings.TrimSpace(getenv("REPLICATE_WEBHOOK_SECRET", "")),
			ReplicateBaseURL:       getenv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
			OpenAIKey:              strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			OpenAIBaseURL:          getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			GoogleAPIKey:           strings.TrimSpace(getenv("GOOGLE_API_KEY", "")),
			WebhookBaseURL:         strings.TrimSpace(getenv("WEBHOOK_BASE_URL", "")),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds:  int(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 60)),
			StaleAfterSecond: int(getenvInt64("SCHEDULER_STALE_AFTER_SECONDS", 600)),
			BatchSize:        int(getenvInt64("SCHEDULER_BATCH_SIZE", 50)),
		},

		PricingOverrides: parsePricingOverrides(getenv("PRICING_OVERRIDES", "")),
	}

	return cfg
}

func parsePricingOverrides(raw string) map[string]int64 {
	out := map[string]int64{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		cost, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || cost <= 0 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = cost
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
