// Package google adapts Gemini models through the generative-ai-go SDK.
// Like openai, generation is synchronous: Submit returns a terminal job.
// Text output lands in Job.Raw under "text"; inline media becomes data
// URLs in Outputs.
package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bluefx/bluefx-server/internal/provider/domain"
	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

type Config struct {
	APIKey string
}

type Adapter struct {
	client *genai.Client
}

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Provider() string { return "google" }

func (a *Adapter) Submit(ctx context.Context, input domain.GenerationInput) (*domain.Job, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, domain.ErrInvalidInput
	}

	modelName := input.Model
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	model := a.client.GenerativeModel(modelName)
	if system := stringParam(input.Parameters, "system_prompt"); system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	parts := []genai.Part{genai.Text(input.Prompt)}
	// Callers analyzing media pass it inline alongside the prompt.
	if mimeType := stringParam(input.Parameters, "media_mime_type"); mimeType != "" {
		if encoded := stringParam(input.Parameters, "media_base64"); encoded != "" {
			data, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, domain.ErrInvalidInput
			}
			parts = append(parts, genai.Blob{MIMEType: mimeType, Data: data})
		}
	}

	job := &domain.Job{
		Provider:   "google",
		ExternalID: "google-" + uuid.NewString(),
	}

	res, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		job.Status = domain.JobFailed
		job.Error = "empty response"
		return job, nil
	}

	var text strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		switch cast := part.(type) {
		case genai.Text:
			text.WriteString(string(cast))
		case genai.Blob:
			job.Outputs = append(job.Outputs, fmt.Sprintf(
				"data:%s;base64,%s",
				cast.MIMEType,
				base64.StdEncoding.EncodeToString(cast.Data),
			))
		}
	}

	job.Status = domain.JobSucceeded
	job.Raw = map[string]any{"text": text.String()}
	if res.UsageMetadata != nil {
		job.Raw["total_tokens"] = int64(res.UsageMetadata.TotalTokenCount)
	}
	return job, nil
}

func (a *Adapter) GetJob(ctx context.Context, externalID string) (*domain.Job, error) {
	return nil, domain.ErrPollingUnsupported
}

func (a *Adapter) Cancel(ctx context.Context, externalID string) error {
	return domain.ErrPollingUnsupported
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func stringParam(params map[string]any, key string) string {
	if value, ok := params[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
