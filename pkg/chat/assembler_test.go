package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/rag"
)

func TestFormatContextProvenance(t *testing.T) {
	results := []rag.RetrievalResult{
		{ChunkID: "docA:0", DocumentID: "docA", Content: "first passage", Rank: 1},
		{ChunkID: "docB:0", DocumentID: "docB", Content: "second passage", Rank: 2},
	}

	block := formatContext(results)
	assert.Contains(t, block, "[source: document docA, chunk docA:0]")
	assert.Contains(t, block, "first passage")
	assert.Contains(t, block, "[source: document docB, chunk docB:0]")
	assert.Less(t, strings.Index(block, "first passage"), strings.Index(block, "second passage"))
}

func TestFormatContextEmpty(t *testing.T) {
	assert.Empty(t, formatContext(nil))
}

func TestTruncateHistoryDropsOldestNonSystem(t *testing.T) {
	long := strings.Repeat("x", 400) // roughly 100 tokens
	history := []llms.Message{
		{Role: llms.RoleSystem, Content: "persona"},
		{Role: llms.RoleUser, Content: long},
		{Role: llms.RoleAssistant, Content: long},
		{Role: llms.RoleUser, Content: "latest question"},
	}

	kept := truncateHistory(history, 50)

	// The system turn survives; the oldest user/assistant turns go first.
	require.NotEmpty(t, kept)
	assert.Equal(t, llms.RoleSystem, kept[0].Role)
	assert.Equal(t, "latest question", kept[len(kept)-1].Content)
	for _, msg := range kept {
		assert.NotEqual(t, long, msg.Content)
	}
}

func TestTruncateHistoryWithinBudget(t *testing.T) {
	history := []llms.Message{
		{Role: llms.RoleUser, Content: "short"},
		{Role: llms.RoleAssistant, Content: "reply"},
	}
	kept := truncateHistory(history, 1000)
	assert.Equal(t, history, kept)
}

func TestTruncateHistoryDropsOrphanedToolTurns(t *testing.T) {
	long := strings.Repeat("y", 400)
	history := []llms.Message{
		{Role: llms.RoleAssistant, Content: long, ToolCalls: []llms.ToolCall{{ID: "call-1", Name: "search"}}},
		{Role: llms.RoleTool, Content: "tool output", ToolCallID: "call-1"},
		{Role: llms.RoleUser, Content: "next question"},
	}

	kept := truncateHistory(history, 20)
	for _, msg := range kept {
		assert.NotEqual(t, llms.RoleTool, msg.Role, "tool turn must not outlive its assistant turn")
	}
}

func TestTruncateHistoryZeroBudget(t *testing.T) {
	history := []llms.Message{{Role: llms.RoleUser, Content: "hello"}}
	assert.Equal(t, history, truncateHistory(history, 0))
}

func TestHistoryBudget(t *testing.T) {
	assert.Equal(t, 500, historyBudget(500, 128000, "sys", "msg"))

	derived := historyBudget(0, 1000, strings.Repeat("s", 400), strings.Repeat("m", 400))
	assert.Equal(t, 1000-250-100-100, derived)

	assert.Equal(t, 0, historyBudget(0, 0, "", ""))
	assert.Equal(t, 0, historyBudget(0, 100, strings.Repeat("s", 4000), ""))
}
