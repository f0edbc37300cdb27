package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/rag"
	"github.com/parley-chat/parley/pkg/tokens"
)

// assembleMessages builds the normalized message sequence for one model:
// system prompt, retrieved context with provenance markers, truncated
// history and the new user turn. Returned warnings surface retrieval
// degradation without failing the turn.
func (o *Orchestrator) assembleMessages(ctx context.Context, req *Request, spec ModelSpec) ([]llms.Message, []string, error) {
	var messages []llms.Message
	var warnings []string

	system := req.SystemPrompt
	if len(req.Collections) > 0 && o.retriever != nil {
		results, retrievalWarnings, err := o.retriever.Retrieve(ctx, req.Collections, req.Message, 0)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, retrievalWarnings...)
		if block := formatContext(results); block != "" {
			if system != "" {
				system += "\n\n"
			}
			system += block
		}
	}
	if system != "" {
		messages = append(messages, llms.Message{Role: llms.RoleSystem, Content: system})
	}

	history, err := o.loadHistory(ctx, req.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	history = truncateHistory(history, historyBudget(o.cfg.HistoryTokenBudget, spec.ContextWindow, system, req.Message))
	messages = append(messages, history...)

	messages = append(messages, llms.Message{Role: llms.RoleUser, Content: req.Message})
	return messages, warnings, nil
}

func (o *Orchestrator) loadHistory(ctx context.Context, conversationID string) ([]llms.Message, error) {
	if o.store == nil || conversationID == "" {
		return nil, nil
	}
	turns, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	messages := make([]llms.Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, llms.Message{
			Role:       turn.Role,
			Content:    turn.Content,
			ToolCalls:  turn.ToolCalls,
			ToolCallID: turn.ToolCallID,
		})
	}
	return messages, nil
}

// formatContext renders retrieval results with provenance markers so the
// model and the UI can cite sources.
func formatContext(results []rag.RetrievalResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant context from indexed documents:\n\n")
	for _, res := range results {
		fmt.Fprintf(&b, "[source: document %s, chunk %s]\n%s\n\n", res.DocumentID, res.ChunkID, res.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// historyBudget derives the token allowance for conversation history.
// An explicit configured budget wins; otherwise history gets what is
// left of the context window after the system prompt, the new message
// and a completion reserve.
func historyBudget(configured, contextWindow int, system, message string) int {
	if configured > 0 {
		return configured
	}
	if contextWindow <= 0 {
		return 0
	}
	reserve := contextWindow / 4
	budget := contextWindow - reserve - tokens.Estimate(system) - tokens.Estimate(message)
	if budget < 0 {
		return 0
	}
	return budget
}

// truncateHistory drops the oldest non-system turns until the remainder
// fits the budget. System turns survive truncation; tool turns orphaned
// by dropping their assistant turn are dropped with it. A budget of zero
// disables truncation.
func truncateHistory(history []llms.Message, budget int) []llms.Message {
	if budget <= 0 || len(history) == 0 {
		return history
	}

	total := 0
	for _, msg := range history {
		total += tokens.Estimate(msg.Content)
	}
	if total <= budget {
		return history
	}

	kept := make([]llms.Message, len(history))
	copy(kept, history)

	for total > budget {
		dropped := false
		for i, msg := range kept {
			if msg.Role == llms.RoleSystem {
				continue
			}
			total -= tokens.Estimate(msg.Content)
			kept = append(kept[:i], kept[i+1:]...)
			// A tool turn answering the dropped assistant turn has no
			// anchor left; remove it too.
			for i < len(kept) && kept[i].Role == llms.RoleTool {
				total -= tokens.Estimate(kept[i].Content)
				kept = append(kept[:i], kept[i+1:]...)
			}
			dropped = true
			break
		}
		if !dropped {
			break
		}
	}
	return kept
}
