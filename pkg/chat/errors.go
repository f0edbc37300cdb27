package chat

import "fmt"

// ValidationError rejects a request before any network call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// BudgetExceededError terminates a stream that hit the tool-round
// ceiling or the model context window. Output already produced is
// preserved, never discarded.
type BudgetExceededError struct {
	Budget string
	Limit  int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded (limit %d)", e.Budget, e.Limit)
}
