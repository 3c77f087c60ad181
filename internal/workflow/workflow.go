// Package workflow runs the credit-gated generation pipeline: validate
// credits, submit to the model provider, wait the job out, relay outputs
// to storage, charge the user, and record the artifact.
package workflow

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
)

type GenerateRequest struct {
	UserID snowflake.ID
	ToolID string
	Prompt string
	// ReferenceImage optionally carries a base64 data URL the user supplied
	// as visual guidance.
	ReferenceImage string
	// Count fans the generation out into that many provider jobs sharing
	// one batch id. Zero means one.
	Count  int
	Params map[string]any
}

type GenerateResult struct {
	BatchID   string                             `json:"batch_id"`
	ToolID    string                             `json:"tool_id"`
	Artifacts []artifactdomain.GeneratedArtifact `json:"artifacts"`
	Outputs   []string                           `json:"outputs"`
	// Analysis carries the model's text for text-result tools.
	Analysis    string   `json:"analysis,omitempty"`
	CreditsUsed int64    `json:"credits_used"`
	Remaining   int64    `json:"remaining"`
	// Warnings reports soft failures (reference upload, storage relay,
	// deduction after success) that did not stop the generation.
	Warnings []string `json:"warnings,omitempty"`
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

var (
	ErrInvalidPrompt = errors.New("invalid_prompt")
	ErrInvalidCount  = errors.New("invalid_count")
	// ErrGenerationFailed means every item in the batch failed; partial
	// batches are filtered instead.
	ErrGenerationFailed = errors.New("generation_failed")
)
