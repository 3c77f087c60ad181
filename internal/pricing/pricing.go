// Package pricing maps generation tools to their credit costs.
package pricing

import (
	"errors"
	"sort"
	"strings"

	"github.com/bluefx/bluefx-server/internal/config"
	"go.uber.org/fx"
)

const (
	ToolLogoMachine      = "logo-machine"
	ToolThumbnailMachine = "thumbnail-machine"
	ToolEbookCover       = "ebook-cover"
	ToolCinematographer  = "ai-cinematographer"
	ToolScriptToVideo    = "script-to-video"
	ToolVideoAnalyzer    = "video-analyzer"
	ToolStoryboard       = "storyboard"
)

var ErrUnknownTool = errors.New("unknown_tool")

var defaultCosts = map[string]int64{
	ToolLogoMachine:      3,
	ToolThumbnailMachine: 2,
	ToolEbookCover:       3,
	ToolCinematographer:  25,
	ToolScriptToVideo:    30,
	ToolVideoAnalyzer:    5,
	ToolStoryboard:       10,
}

// Table is the per-tool credit cost configuration injected into the
// orchestrator. Costs come from defaults plus environment overrides; there
// are no module-level mutable tables.
type Table struct {
	costs map[string]int64
}

func NewTable(overrides map[string]int64) *Table {
	costs := make(map[string]int64, len(defaultCosts))
	for tool, cost := range defaultCosts {
		costs[tool] = cost
	}
	for tool, cost := range overrides {
		tool = strings.TrimSpace(tool)
		if _, ok := costs[tool]; ok && cost > 0 {
			costs[tool] = cost
		}
	}
	return &Table{costs: costs}
}

// Cost returns the credit cost of one invocation of the given tool.
func (t *Table) Cost(toolID string) (int64, error) {
	cost, ok := t.costs[strings.TrimSpace(toolID)]
	if !ok {
		return 0, ErrUnknownTool
	}
	return cost, nil
}

// Tools lists the known tool ids in stable order.
func (t *Table) Tools() []string {
	tools := make([]string, 0, len(t.costs))
	for tool := range t.costs {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}

var Module = fx.Module("pricing",
	fx.Provide(func(cfg config.Config) *Table {
		return NewTable(cfg.PricingOverrides)
	}),
)
