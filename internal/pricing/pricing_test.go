package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostDefaults(t *testing.T) {
	table := NewTable(nil)

	cost, err := table.Cost(ToolLogoMachine)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), cost)

	cost, err = table.Cost(ToolScriptToVideo)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), cost)
}

func TestCostOverrides(t *testing.T) {
	table := NewTable(map[string]int64{
		ToolLogoMachine: 5,
		"not-a-tool":    99,
		ToolEbookCover:  -1,
	})

	cost, err := table.Cost(ToolLogoMachine)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), cost)

	// Unknown tools cannot be introduced through overrides.
	_, err = table.Cost("not-a-tool")
	assert.ErrorIs(t, err, ErrUnknownTool)

	// Non-positive overrides are ignored.
	cost, err = table.Cost(ToolEbookCover)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), cost)
}

func TestToolsStableOrder(t *testing.T) {
	table := NewTable(nil)
	tools := table.Tools()
	assert.Len(t, tools, 7)
	assert.Equal(t, tools[0], ToolCinematographer)
}
