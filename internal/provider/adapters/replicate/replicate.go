// Package replicate adapts the Replicate predictions API. Jobs here are
// asynchronous: Submit registers a webhook and the caller either waits for
// the callback or polls GetJob.
package replicate

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
)

type Config struct {
	Token         string
	WebhookSecret string
	BaseURL       string
}

type Adapter struct {
	token         string
	webhookSecret string
	baseURL       string
	http          *http.Client
}

func New(cfg Config) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	return &Adapter{
		token:         token,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		http:          &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Provider() string { return "replicate" }

type predictionRequest struct {
	Version             string         `json:"version,omitempty"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

func (a *Adapter) Submit(ctx context.Context, input domain.GenerationInput) (*domain.Job, error) {
	if strings.TrimSpace(input.Model) == "" {
		return nil, domain.ErrInvalidInput
	}

	body := predictionRequest{
		Version: input.Model,
		Input:   buildInput(input),
	}
	if input.WebhookURL != "" {
		body.Webhook = input.WebhookURL
		body.WebhookEventsFilter = []string{"completed"}
	}

	var resp predictionResponse
	if err := a.do(ctx, http.MethodPost, "/predictions", body, &resp); err != nil {
		return nil, err
	}
	return a.toJob(resp)
}

func (a *Adapter) GetJob(ctx context.Context, externalID string) (*domain.Job, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, domain.ErrJobNotFound
	}

	var resp predictionResponse
	err := a.do(ctx, http.MethodGet, "/predictions/"+externalID, nil, &resp)
	if err != nil {
		return nil, err
	}
	return a.toJob(resp)
}

func (a *Adapter) Cancel(ctx context.Context, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return domain.ErrJobNotFound
	}
	return a.do(ctx, http.MethodPost, "/predictions/"+externalID+"/cancel", nil, nil)
}

// ParseJob normalizes a raw prediction payload, used by both API responses
// and webhook deliveries.
func (a *Adapter) ParseJob(payload []byte) (*domain.Job, error) {
	var resp predictionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	return a.toJob(resp)
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrJobNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("replicate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.ErrInvalidPayload
	}
	return nil
}

func (a *Adapter) toJob(resp predictionResponse) (*domain.Job, error) {
	if strings.TrimSpace(resp.ID) == "" {
		return nil, domain.ErrInvalidPayload
	}

	job := &domain.Job{
		Provider:   "replicate",
		ExternalID: resp.ID,
		Status:     mapStatus(resp.Status),
		Outputs:    normalizeOutput(resp.Output),
		Error:      errorString(resp.Error),
	}
	return job, nil
}

func mapStatus(status string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "starting", "queued":
		return domain.JobStarting
	case "processing":
		return domain.JobProcessing
	case "succeeded":
		return domain.JobSucceeded
	case "canceled":
		return domain.JobCanceled
	default:
		return domain.JobFailed
	}
}

// normalizeOutput flattens the prediction output union. Depending on the
// model it arrives as a bare string, an array of strings, or an object
// whose values hold URL strings or arrays of them.
func normalizeOutput(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		return collectStrings(list)
	}

	var object map[string]any
	if err := json.Unmarshal(raw, &object); err == nil {
		var out []string
		for _, key := range []string{"output", "urls", "images", "video", "url"} {
			value, ok := object[key]
			if !ok {
				continue
			}
			switch cast := value.(type) {
			case string:
				if cast != "" {
					out = append(out, cast)
				}
			case []any:
				out = append(out, collectStrings(cast)...)
			}
		}
		return out
	}
	return nil
}

func collectStrings(values []any) []string {
	var out []string
	for _, value := range values {
		if s, ok := value.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func errorString(value any) string {
	switch cast := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(cast)
	default:
		encoded, err := json.Marshal(cast)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func buildInput(input domain.GenerationInput) map[string]any {
	params := make(map[string]any, len(input.Parameters)+1)
	for key, value := range input.Parameters {
		params[key] = value
	}
	if input.Prompt != "" {
		params["prompt"] = input.Prompt
	}
	return params
}
