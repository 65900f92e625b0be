package engine

import (
	"fmt"

	"controltower/internal/domain"
)

// ValidationError rejects a mutation whose input violates a precondition.
// No state changes when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError rejects a ticket state change that is not the
// single forward step the state machine allows.
type InvalidTransitionError struct {
	From domain.TicketStatus
	To   domain.TicketStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid ticket status transition %s -> %s", e.From, e.To)
}

// AuthenticationError reports a failed login. It never says which of the
// login id, password or active flag was wrong.
type AuthenticationError struct{}

func (e *AuthenticationError) Error() string {
	return "authentication failed"
}

// ForbiddenError rejects an operation the authenticated identity is not
// allowed to perform.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return e.Reason
}
