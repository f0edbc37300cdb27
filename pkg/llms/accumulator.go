package llms

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ToolCallAccumulator assembles streamed ToolCallDelta fragments into
// complete tool calls. Fragments for one call share an index; id and name
// arrive on the first fragment, argument JSON accumulates across the rest.
type ToolCallAccumulator struct {
	calls map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args []byte
}

func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*pendingCall)}
}

func (a *ToolCallAccumulator) Add(delta *ToolCallDelta) {
	if delta == nil {
		return
	}
	call, ok := a.calls[delta.Index]
	if !ok {
		call = &pendingCall{}
		a.calls[delta.Index] = call
	}
	if delta.ID != "" {
		call.id = delta.ID
	}
	if delta.Name != "" {
		call.name = delta.Name
	}
	call.args = append(call.args, delta.ArgumentsFragment...)
}

func (a *ToolCallAccumulator) Empty() bool {
	return len(a.calls) == 0
}

// Calls parses the accumulated fragments, returning calls in index order.
func (a *ToolCallAccumulator) Calls() ([]ToolCall, error) {
	indices := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	result := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		call := a.calls[idx]
		args := map[string]any{}
		if len(call.args) > 0 {
			if err := json.Unmarshal(call.args, &args); err != nil {
				return nil, fmt.Errorf("tool call %q has malformed arguments: %w", call.name, err)
			}
		}
		result = append(result, ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: args,
		})
	}
	return result, nil
}
