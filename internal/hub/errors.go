package hub

import (
	"errors"
	"fmt"
)

// Errors surfaced by the conversation manager. All errors go to the
// immediate caller; the manager never retries internally.
var (
	// ErrInvalidParticipant indicates a malformed or missing participant
	// name. Never retried.
	ErrInvalidParticipant = errors.New("invalid participant")

	// ErrOutOfOrderTurn indicates a message whose turn number does not
	// match the expected sequence. The caller decides whether to resubmit
	// with correct numbering.
	ErrOutOfOrderTurn = errors.New("turn out of order")

	// ErrInactiveConversation indicates routing against a conversation
	// that is known but no longer active. Terminal conversations never
	// reactivate.
	ErrInactiveConversation = errors.New("conversation not active")
)

// HandlerError wraps a failure raised by a resolved module handler. The
// conversation stays active; a single failed turn does not terminate it.
type HandlerError struct {
	Module string
	Err    error
}

// Error implements the error interface
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Module, e.Err)
}

// Unwrap preserves the original cause
func (e *HandlerError) Unwrap() error {
	return e.Err
}
