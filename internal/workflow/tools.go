package workflow

import (
	"strings"
	"time"

	"github.com/bluefx/bluefx-server/internal/pricing"
	"github.com/bluefx/bluefx-server/internal/provider/poll"
)

// toolRoute binds a tool to the provider and model that back it, plus the
// defaults merged under any caller-supplied parameters.
type toolRoute struct {
	Provider string
	Model    string
	// TextResult marks tools whose deliverable is the model's text (the
	// analysis lands in artifact metadata, not in storage).
	TextResult    bool
	DefaultParams map[string]any
	PollDeadline  time.Duration
	MaxBatch      int
}

var toolRoutes = map[string]toolRoute{
	pricing.ToolLogoMachine: {
		Provider: "replicate",
		Model:    "black-forest-labs/flux-schnell",
		DefaultParams: map[string]any{
			"aspect_ratio":   "1:1",
			"output_format":  "png",
			"output_quality": 90,
		},
		PollDeadline: 5 * time.Minute,
		MaxBatch:     4,
	},
	pricing.ToolThumbnailMachine: {
		Provider: "openai",
		Model:    "gpt-image-1",
		DefaultParams: map[string]any{
			"size": "1536x1024",
		},
		MaxBatch: 4,
	},
	pricing.ToolEbookCover: {
		Provider: "replicate",
		Model:    "black-forest-labs/flux-dev",
		DefaultParams: map[string]any{
			"aspect_ratio":  "2:3",
			"output_format": "png",
		},
		PollDeadline: 5 * time.Minute,
		MaxBatch:     4,
	},
	pricing.ToolCinematographer: {
		Provider: "replicate",
		Model:    "minimax/video-01",
		DefaultParams: map[string]any{
			"prompt_optimizer": true,
		},
		PollDeadline: 15 * time.Minute,
		MaxBatch:     1,
	},
	pricing.ToolScriptToVideo: {
		Provider: "replicate",
		Model:    "wan-video/wan-2.1-t2v-480p",
		DefaultParams: map[string]any{
			"num_frames": 81,
		},
		PollDeadline: 20 * time.Minute,
		MaxBatch:     1,
	},
	pricing.ToolVideoAnalyzer: {
		Provider:     "google",
		Model:        "gemini-1.5-flash",
		TextResult:   true,
		PollDeadline: 5 * time.Minute,
		MaxBatch:     1,
	},
	pricing.ToolStoryboard: {
		Provider: "replicate",
		Model:    "black-forest-labs/flux-schnell",
		DefaultParams: map[string]any{
			"aspect_ratio":  "16:9",
			"output_format": "png",
		},
		PollDeadline: 10 * time.Minute,
		MaxBatch:     8,
	},
}

func routeFor(toolID string) (toolRoute, bool) {
	route, ok := toolRoutes[strings.TrimSpace(toolID)]
	return route, ok
}

func (r toolRoute) pollConfig() poll.Config {
	cfg := poll.DefaultConfig()
	if r.PollDeadline > 0 {
		cfg.Deadline = r.PollDeadline
	}
	return cfg
}

func (r toolRoute) maxBatch() int {
	if r.MaxBatch <= 0 {
		return 1
	}
	return r.MaxBatch
}

func mergeParams(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for key, value := range defaults {
		merged[key] = value
	}
	for key, value := range overrides {
		merged[key] = value
	}
	return merged
}
