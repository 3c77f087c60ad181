// Package openai adapts the OpenAI images API. Generation here is
// synchronous: Submit blocks for the HTTP call and returns a terminal job
// whose outputs are data URLs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bluefx/bluefx-server/internal/provider/domain"
	"github.com/google/uuid"
)

type Config struct {
	APIKey  string
	BaseURL string
}

type Adapter struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func New(cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Adapter{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 3 * time.Minute},
	}, nil
}

func (a *Adapter) Provider() string { return "openai" }

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) Submit(ctx context.Context, input domain.GenerationInput) (*domain.Job, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, domain.ErrInvalidInput
	}

	model := input.Model
	if model == "" {
		model = "gpt-image-1"
	}
	body := imageRequest{
		Model:          model,
		Prompt:         input.Prompt,
		N:              intParam(input.Parameters, "n"),
		Size:           stringParam(input.Parameters, "size"),
		Quality:        stringParam(input.Parameters, "quality"),
		ResponseFormat: "b64_json",
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/images/generations", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed imageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	job := &domain.Job{
		Provider:   "openai",
		ExternalID: "openai-" + uuid.NewString(),
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		job.Status = domain.JobFailed
		if parsed.Error != nil {
			job.Error = parsed.Error.Message
		} else {
			job.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return job, nil
	}

	for _, item := range parsed.Data {
		switch {
		case item.B64JSON != "":
			job.Outputs = append(job.Outputs, "data:image/png;base64,"+item.B64JSON)
		case item.URL != "":
			job.Outputs = append(job.Outputs, item.URL)
		}
	}
	if len(job.Outputs) == 0 {
		job.Status = domain.JobFailed
		job.Error = "empty response"
		return job, nil
	}
	job.Status = domain.JobSucceeded
	return job, nil
}

// GetJob is unsupported: image generation completes within Submit, so
// there is never a pending job to look up.
func (a *Adapter) GetJob(ctx context.Context, externalID string) (*domain.Job, error) {
	return nil, domain.ErrPollingUnsupported
}

func (a *Adapter) Cancel(ctx context.Context, externalID string) error {
	return domain.ErrPollingUnsupported
}

func stringParam(params map[string]any, key string) string {
	if value, ok := params[key].(string); ok {
		return value
	}
	return ""
}

func intParam(params map[string]any, key string) int {
	switch cast := params[key].(type) {
	case int:
		return cast
	case int64:
		return int(cast)
	case float64:
		return int(cast)
	}
	return 0
}
