package domain

import "fmt"

// NotFoundError reports a lookup against an entity that does not exist in
// the reference snapshot or the session store.
type NotFoundError struct {
	Kind string // "order", "task", "ticket", "escalation", "session"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
