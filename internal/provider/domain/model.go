// Package domain defines the contract every model provider adapter
// implements. Adapters normalize provider-specific payloads into Job so
// the orchestrator never branches on a provider name.
package domain

import (
	"context"
	"errors"
)

type JobStatus string

const (
	JobStarting   JobStatus = "starting"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

// Terminal reports whether the provider will never change this status again.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// GenerationInput is a provider-agnostic generation request. Parameters
// carries tool-specific knobs (size, aspect ratio, duration) verbatim.
type GenerationInput struct {
	ToolID     string
	Model      string
	Prompt     string
	Parameters map[string]any
	// WebhookURL, when set and supported by the provider, is registered on
	// the job so completion arrives without polling.
	WebhookURL string
}

// Job is the normalized view of a provider-side generation job. Outputs
// holds result URLs; sync providers return data URLs here directly.
type Job struct {
	Provider   string
	ExternalID string
	Status     JobStatus
	Outputs    []string
	Error      string
	Raw        map[string]any
}

type ModelAdapter interface {
	Provider() string
	// Submit starts a job. Synchronous providers may return a terminal Job
	// with Outputs already populated.
	Submit(ctx context.Context, input GenerationInput) (*Job, error)
	// GetJob fetches the current state of a previously submitted job.
	GetJob(ctx context.Context, externalID string) (*Job, error)
	Cancel(ctx context.Context, externalID string) error
}

var (
	ErrProviderNotFound    = errors.New("provider_not_found")
	ErrInvalidConfig       = errors.New("invalid_provider_config")
	ErrInvalidInput        = errors.New("invalid_generation_input")
	ErrInvalidPayload      = errors.New("invalid_provider_payload")
	ErrInvalidSignature    = errors.New("invalid_webhook_signature")
	ErrJobNotFound         = errors.New("provider_job_not_found")
	ErrPollingUnsupported  = errors.New("polling_unsupported")
	ErrProviderUnavailable = errors.New("provider_unavailable")
)
