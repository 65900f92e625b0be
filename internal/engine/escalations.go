package engine

import (
	"context"

	"github.com/google/uuid"

	"controltower/internal/domain"
	"controltower/internal/events"
)

// TriggerEscalation appends one immutable escalation record. There is no
// update or delete path for escalations anywhere in the system.
func (e Engine) TriggerEscalation(ctx context.Context, orderID, taskID string, target domain.EscalationTarget, reason, actorID string) (domain.Escalation, error) {
	if reason == "" {
		return domain.Escalation{}, &ValidationError{Field: "reason", Reason: "must not be empty"}
	}
	if !validTarget(target) {
		return domain.Escalation{}, &ValidationError{Field: "target", Reason: "unknown target " + string(target)}
	}
	if _, ok := e.Ref.Order(orderID); !ok {
		return domain.Escalation{}, &domain.NotFoundError{Kind: "order", ID: orderID}
	}
	esc := domain.Escalation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		TaskID:    taskID,
		Target:    target,
		Reason:    reason,
		RaisedBy:  actorID,
		CreatedAt: e.now().UTC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escalation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEscalation(ctx, tx, esc); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.Events.Append(ctx, tx, "escalation.triggered", esc.OrderID, "escalation", esc.ID, actorID, events.EventPayload{
		"task_id": esc.TaskID, "target": string(esc.Target),
	}); err != nil {
		return domain.Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escalation{}, err
	}
	return esc, nil
}

func validTarget(t domain.EscalationTarget) bool {
	for _, v := range domain.EscalationTargets {
		if v == t {
			return true
		}
	}
	return false
}

// ListEscalations returns every escalation, oldest first.
func (e Engine) ListEscalations(ctx context.Context) ([]domain.Escalation, error) {
	return e.Repo.ListEscalations(ctx, "")
}

// EscalationsForOrder returns one order's escalations, oldest first.
func (e Engine) EscalationsForOrder(ctx context.Context, orderID string) ([]domain.Escalation, error) {
	return e.Repo.ListEscalations(ctx, orderID)
}
