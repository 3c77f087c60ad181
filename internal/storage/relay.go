package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/bluefx/bluefx-server/internal/config"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxMirrorBytes caps how much we pull from a provider URL in one relay.
const maxMirrorBytes = 512 << 20

var (
	ErrEmptyPayload   = errors.New("empty_payload")
	ErrInvalidDataURL = errors.New("invalid_data_url")
	ErrSourceFetch    = errors.New("source_fetch_failed")
)

type UploadRequest struct {
	UserID      snowflake.ID
	ToolID      string
	Data        []byte
	ContentType string
}

// Object describes a stored blob and the public URL handed to clients.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type Relay interface {
	// Upload stores raw bytes, sniffing the content type when the caller
	// does not provide one.
	Upload(ctx context.Context, req UploadRequest) (*Object, error)
	// UploadDataURL decodes a base64 data URL and stores its payload.
	UploadDataURL(ctx context.Context, userID snowflake.ID, toolID, dataURL string) (*Object, error)
	// Mirror downloads a provider-hosted URL and re-uploads it, returning
	// a URL under our control.
	Mirror(ctx context.Context, userID snowflake.ID, toolID, sourceURL string) (*Object, error)
}

type Params struct {
	fx.In

	LC     fx.Lifecycle
	Client *minio.Client
	Config config.Config
	Log    *zap.Logger
}

type relay struct {
	client *minio.Client
	cfg    config.StorageConfig
	log    *zap.Logger
	http   *http.Client
}

func NewRelay(p Params) Relay {
	r := &relay{
		client: p.Client,
		cfg:    p.Config.Storage,
		log:    p.Log.Named("storage.relay"),
		http:   &http.Client{Timeout: 2 * time.Minute},
	}
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureBucket(ctx, r.client, r.cfg.Bucket)
		},
	})
	return r
}

func (r *relay) Upload(ctx context.Context, req UploadRequest) (*Object, error) {
	if len(req.Data) == 0 {
		return nil, ErrEmptyPayload
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Data)
	}

	key := r.objectKey(req.UserID, req.ToolID, contentType)
	_, err := r.client.PutObject(ctx,
		r.cfg.Bucket,
		key,
		bytes.NewReader(req.Data),
		int64(len(req.Data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	obj := &Object{
		Key:         key,
		URL:         r.publicURL(key),
		ContentType: contentType,
		Size:        int64(len(req.Data)),
	}
	r.log.Info("stored object",
		zap.String("key", key),
		zap.String("content_type", contentType),
		zap.Int64("size", obj.Size),
	)
	return obj, nil
}

func (r *relay) UploadDataURL(ctx context.Context, userID snowflake.ID, toolID, dataURL string) (*Object, error) {
	contentType, data, err := ParseDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return r.Upload(ctx, UploadRequest{
		UserID:      userID,
		ToolID:      toolID,
		Data:        data,
		ContentType: contentType,
	})
}

func (r *relay) Mirror(ctx context.Context, userID snowflake.ID, toolID, sourceURL string) (*Object, error) {
	if strings.HasPrefix(sourceURL, "data:") {
		return r.UploadDataURL(ctx, userID, toolID, sourceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSourceFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMirrorBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return r.Upload(ctx, UploadRequest{
		UserID:      userID,
		ToolID:      toolID,
		Data:        data,
		ContentType: contentType,
	})
}

// objectKey yields keys like "logo-machine/123456789/3f2a....png" so the
// bucket stays browsable per tool and per user.
func (r *relay) objectKey(userID snowflake.ID, toolID, contentType string) string {
	return fmt.Sprintf("%s/%d/%s%s",
		slug.Make(toolID),
		userID,
		uuid.NewString(),
		extensionFor(contentType),
	)
}

func (r *relay) publicURL(key string) string {
	base := strings.TrimSuffix(r.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, r.cfg.Endpoint, r.cfg.Bucket)
	}
	return base + "/" + key
}

// ParseDataURL splits a base64 data URL into its media type and payload.
func ParseDataURL(dataURL string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}

	contentType = meta
	if idx := strings.Index(meta, ";"); idx >= 0 {
		contentType = meta[:idx]
		if !strings.Contains(meta, "base64") {
			return "", nil, ErrInvalidDataURL
		}
	}
	if contentType == "" {
		contentType = "text/plain"
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, ErrInvalidDataURL
	}
	if len(data) == 0 {
		return "", nil, ErrEmptyPayload
	}
	return contentType, data, nil
}

var wellKnownExtensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"audio/mpeg":      ".mp3",
	"application/pdf": ".pdf",
}

func extensionFor(contentType string) string {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if ext, ok := wellKnownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
