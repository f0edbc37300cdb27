package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/rag"
)

// SearchTool lets the model query the document index mid-conversation.
// The collections it searches are fixed at construction, so a session's
// tool can never reach beyond the collections its request authorized.
type SearchTool struct {
	retriever   *rag.Retriever
	collections []string
	topK        int
}

func NewSearchTool(retriever *rag.Retriever, collections []string, topK int) *SearchTool {
	return &SearchTool{
		retriever:   retriever,
		collections: collections,
		topK:        topK,
	}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "search",
		Description: "Search the indexed documents for passages relevant to a query. Returns the best matching excerpts with their source document ids.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for in the documents",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return Result{Content: "search requires a non-empty query", Success: false}, nil
	}

	results, warnings, err := t.retriever.Retrieve(ctx, t.collections, query, t.topK)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	if len(results) == 0 {
		b.WriteString("no matching passages found")
	}
	for _, res := range results {
		fmt.Fprintf(&b, "[%d] (document %s, score %.2f)\n%s\n\n", res.Rank, res.DocumentID, res.Score, res.Content)
	}
	for _, warning := range warnings {
		fmt.Fprintf(&b, "note: %s\n", warning)
	}
	return Result{Content: strings.TrimRight(b.String(), "\n"), Success: true}, nil
}
