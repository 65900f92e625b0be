package engine

import (
	"context"
	"time"

	"controltower/internal/derive"
	"controltower/internal/domain"
	"controltower/internal/events"
	"controltower/internal/repo"
)

// SubmitTicketOptions are parameters for raising a support ticket.
type SubmitTicketOptions struct {
	OrderID     string
	Customer    string
	Category    domain.TicketCategory
	Description string
	ActorID     string
}

// SubmitTicket raises a new Open ticket routed to the operations team
// owning the order's lifecycle stage. Ids come from a monotonic counter on
// the tickets table, so they survive restarts and never collide.
func (e Engine) SubmitTicket(ctx context.Context, opts SubmitTicketOptions) (domain.Ticket, error) {
	if opts.Description == "" {
		return domain.Ticket{}, &ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if !validCategory(opts.Category) {
		return domain.Ticket{}, &ValidationError{Field: "category", Reason: "unknown category " + string(opts.Category)}
	}
	o, ok := e.Ref.Order(opts.OrderID)
	if !ok {
		return domain.Ticket{}, &domain.NotFoundError{Kind: "order", ID: opts.OrderID}
	}
	now := e.now().UTC()
	t := domain.Ticket{
		OrderID:         o.ID,
		CustomerName:    opts.Customer,
		Lifecycle:       o.Lifecycle,
		RoutedTeam:      derive.RoutedTeam(o.Lifecycle),
		Category:        opts.Category,
		Description:     opts.Description,
		Status:          domain.TicketOpen,
		RaisedAt:        now,
		StatusUpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback()
	t, err = e.Repo.InsertTicket(ctx, tx, t)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := e.Events.Append(ctx, tx, "ticket.submitted", t.OrderID, "ticket", t.ID, opts.ActorID, events.EventPayload{
		"category": string(t.Category), "routed_team": string(t.RoutedTeam),
	}); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

func validCategory(c domain.TicketCategory) bool {
	for _, v := range domain.TicketCategories {
		if v == c {
			return true
		}
	}
	return false
}

// ensureTicketTransition allows exactly the single forward step of the
// ticket state machine. Closed is terminal.
func ensureTicketTransition(old, next domain.TicketStatus) error {
	switch old {
	case domain.TicketOpen:
		if next == domain.TicketAcknowledged {
			return nil
		}
	case domain.TicketAcknowledged:
		if next == domain.TicketInProgress {
			return nil
		}
	case domain.TicketInProgress:
		if next == domain.TicketResolved {
			return nil
		}
	case domain.TicketResolved:
		if next == domain.TicketClosed {
			return nil
		}
	}
	return &InvalidTransitionError{From: old, To: next}
}

// ensureTicketAuthority checks the actor may act on the ticket: either it
// is unassigned, or the actor is its assignee or the assignee's manager.
func (e Engine) ensureTicketAuthority(t domain.Ticket, actorID string) error {
	if t.AssignedTo == "" {
		return nil
	}
	if domain.SameIdentity(t.AssignedTo, actorID) {
		return nil
	}
	if derive.IsReportee(e.Ref.Credentials(), actorID, t.AssignedTo) {
		return nil
	}
	return &ForbiddenError{Reason: "ticket " + t.ID + " is assigned to " + t.AssignedTo}
}

func (e Engine) transitionTicket(ctx context.Context, ticketID string, next domain.TicketStatus, actorID string, evtType string, mutate func(*domain.Ticket)) (domain.Ticket, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTicketTx(ctx, tx, ticketID)
	if err == repo.ErrNotFound {
		return domain.Ticket{}, &domain.NotFoundError{Kind: "ticket", ID: ticketID}
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := e.ensureTicketAuthority(t, actorID); err != nil {
		return domain.Ticket{}, err
	}
	if err := ensureTicketTransition(t.Status, next); err != nil {
		return domain.Ticket{}, err
	}
	from := t.Status
	t.Status = next
	t.StatusUpdatedAt = e.now().UTC()
	if mutate != nil {
		mutate(&t)
	}
	if err := e.Repo.UpdateTicket(ctx, tx, t); err != nil {
		return domain.Ticket{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, t.OrderID, "ticket", t.ID, actorID, events.EventPayload{
		"from": string(from), "to": string(next),
	}); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// AcknowledgeTicket moves an Open ticket to Acknowledged. An unassigned
// ticket is claimed by the acting engineer.
func (e Engine) AcknowledgeTicket(ctx context.Context, ticketID, actorID string) (domain.Ticket, error) {
	return e.transitionTicket(ctx, ticketID, domain.TicketAcknowledged, actorID, "ticket.acknowledged", func(t *domain.Ticket) {
		if t.AssignedTo == "" {
			t.AssignedTo = actorID
		}
	})
}

// StartTicketWork moves an Acknowledged ticket to In Progress.
func (e Engine) StartTicketWork(ctx context.Context, ticketID, actorID string) (domain.Ticket, error) {
	return e.transitionTicket(ctx, ticketID, domain.TicketInProgress, actorID, "ticket.started", nil)
}

// ResolveTicket moves an In Progress ticket to Resolved and flags the
// customer as notified. The auto-close sweep takes it from there.
func (e Engine) ResolveTicket(ctx context.Context, ticketID, actorID string) (domain.Ticket, error) {
	return e.transitionTicket(ctx, ticketID, domain.TicketResolved, actorID, "ticket.resolved", func(t *domain.Ticket) {
		t.CustomerNotified = true
	})
}

// ReassignTicket hands a non-Closed ticket to a new assignee without
// touching its status. The actor must manage both the current and the new
// assignee; an unassigned ticket only needs authority over the new one.
func (e Engine) ReassignTicket(ctx context.Context, ticketID, newAssignee, actorID string) (domain.Ticket, error) {
	if newAssignee == "" {
		return domain.Ticket{}, &ValidationError{Field: "assignee", Reason: "must not be empty"}
	}
	creds := e.Ref.Credentials()
	if !derive.IsReportee(creds, actorID, newAssignee) {
		return domain.Ticket{}, &ForbiddenError{Reason: newAssignee + " does not report to " + actorID}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTicketTx(ctx, tx, ticketID)
	if err == repo.ErrNotFound {
		return domain.Ticket{}, &domain.NotFoundError{Kind: "ticket", ID: ticketID}
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.Status == domain.TicketClosed {
		return domain.Ticket{}, &InvalidTransitionError{From: domain.TicketClosed, To: domain.TicketClosed}
	}
	if t.AssignedTo != "" && !derive.IsReportee(creds, actorID, t.AssignedTo) {
		return domain.Ticket{}, &ForbiddenError{Reason: t.AssignedTo + " does not report to " + actorID}
	}
	prev := t.AssignedTo
	t.AssignedTo = newAssignee
	t.StatusUpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateTicket(ctx, tx, t); err != nil {
		return domain.Ticket{}, err
	}
	if err := e.Events.Append(ctx, tx, "ticket.reassigned", t.OrderID, "ticket", t.ID, actorID, events.EventPayload{
		"from": prev, "to": newAssignee,
	}); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// sweepAutoClose closes every Resolved ticket that has dwelled past the
// configured threshold. It runs inline on each ticket read, not on a
// timer, and is a no-op for tickets already Closed.
func (e Engine) sweepAutoClose(ctx context.Context) error {
	now := e.now().UTC()
	cutoff := now.Add(-e.Config.TicketAutoCloseAfter())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stale, err := e.Repo.ResolvedBefore(ctx, tx, cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	for _, t := range stale {
		resolvedAt := t.StatusUpdatedAt
		t.Status = domain.TicketClosed
		t.StatusUpdatedAt = now
		if err := e.Repo.UpdateTicket(ctx, tx, t); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "ticket.auto_closed", t.OrderID, "ticket", t.ID, "system", events.EventPayload{
			"resolved_at": resolvedAt.Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListTickets returns tickets matching the filters, oldest first, after
// running the auto-close sweep.
func (e Engine) ListTickets(ctx context.Context, f repo.TicketFilters) ([]domain.Ticket, error) {
	if err := e.sweepAutoClose(ctx); err != nil {
		return nil, err
	}
	return e.Repo.ListTickets(ctx, f)
}

// TicketsForOrder returns one order's tickets.
func (e Engine) TicketsForOrder(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	return e.ListTickets(ctx, repo.TicketFilters{OrderID: orderID})
}

// TicketsForAssignee returns the tickets assigned to one engineer, matched
// on normalized identity.
func (e Engine) TicketsForAssignee(ctx context.Context, assignee string) ([]domain.Ticket, error) {
	all, err := e.ListTickets(ctx, repo.TicketFilters{})
	if err != nil {
		return nil, err
	}
	var out []domain.Ticket
	for _, t := range all {
		if t.AssignedTo != "" && domain.SameIdentity(t.AssignedTo, assignee) {
			out = append(out, t)
		}
	}
	return out, nil
}

// TeamTickets returns the tickets assigned to any of a manager's
// reportees, plus unassigned tickets routed to any team (managers triage
// the open queue).
func (e Engine) TeamTickets(ctx context.Context, managerID string) ([]domain.Ticket, error) {
	all, err := e.ListTickets(ctx, repo.TicketFilters{})
	if err != nil {
		return nil, err
	}
	creds := e.Ref.Credentials()
	var out []domain.Ticket
	for _, t := range all {
		if t.AssignedTo == "" || derive.IsReportee(creds, managerID, t.AssignedTo) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTicket returns one ticket after the auto-close sweep.
func (e Engine) GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error) {
	if err := e.sweepAutoClose(ctx); err != nil {
		return domain.Ticket{}, err
	}
	t, err := e.Repo.GetTicket(ctx, ticketID)
	if err == repo.ErrNotFound {
		return domain.Ticket{}, &domain.NotFoundError{Kind: "ticket", ID: ticketID}
	}
	return t, err
}
