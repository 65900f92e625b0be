package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"controltower/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const ticketIDFormat = "TCKT_%04d"

// timeLayouts accepted when parsing stored/imported timestamps. RFC3339 is
// what the engine writes; date-only values appear in imported workbooks.
var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// InsertTicket assigns the next sequential ticket id and inserts the row.
// The counter is the tickets table's own monotonic sequence, not the current
// log length, so ids stay stable even if callers filter their view.
func (r Repo) InsertTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket) (domain.Ticket, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM tickets`).Scan(&seq); err != nil {
		return t, fmt.Errorf("next ticket seq: %w", err)
	}
	t.ID = fmt.Sprintf(ticketIDFormat, seq)
	_, err := tx.ExecContext(ctx, `INSERT INTO tickets(seq,id,order_id,customer_name,lifecycle_stage,routed_team,category,description,status,assigned_to,customer_notified,raised_at,status_updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		seq, t.ID, t.OrderID, t.CustomerName, string(t.Lifecycle), string(t.RoutedTeam), string(t.Category), t.Description,
		string(t.Status), nullable(t.AssignedTo), boolToInt(t.CustomerNotified), formatTime(t.RaisedAt), formatTime(t.StatusUpdatedAt))
	if err != nil {
		return t, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

func (r Repo) UpdateTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket) error {
	res, err := tx.ExecContext(ctx, `UPDATE tickets SET status=?, assigned_to=?, customer_notified=?, status_updated_at=? WHERE id=?`,
		string(t.Status), nullable(t.AssignedTo), boolToInt(t.CustomerNotified), formatTime(t.StatusUpdatedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const ticketColumns = `id,order_id,customer_name,lifecycle_stage,routed_team,category,description,status,assigned_to,customer_notified,raised_at,status_updated_at`

func scanTicket(scan func(dest ...any) error) (domain.Ticket, error) {
	var t domain.Ticket
	var lifecycle, team, category, status, raisedAt, updatedAt string
	var assigned sql.NullString
	var notified int
	err := scan(&t.ID, &t.OrderID, &t.CustomerName, &lifecycle, &team, &category, &t.Description, &status, &assigned, &notified, &raisedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Lifecycle = domain.Stage(lifecycle)
	t.RoutedTeam = domain.TeamID(team)
	t.Category = domain.TicketCategory(category)
	t.Status = domain.TicketStatus(status)
	if assigned.Valid {
		t.AssignedTo = assigned.String
	}
	t.CustomerNotified = notified != 0
	if t.RaisedAt, err = ParseTime(raisedAt); err != nil {
		return t, err
	}
	if t.StatusUpdatedAt, err = ParseTime(updatedAt); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=?`, id)
	return scanTicket(row.Scan)
}

func (r Repo) GetTicketTx(ctx context.Context, tx *sql.Tx, id string) (domain.Ticket, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=?`, id)
	return scanTicket(row.Scan)
}

// TicketFilters narrows ListTickets. Empty fields are pass-through.
type TicketFilters struct {
	OrderID string
	Status  domain.TicketStatus
}

func (r Repo) ListTickets(ctx context.Context, f TicketFilters) ([]domain.Ticket, error) {
	var clauses []string
	var args []any
	if f.OrderID != "" {
		clauses = append(clauses, "order_id=?")
		args = append(args, f.OrderID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY seq ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ResolvedBefore returns Resolved tickets whose last status update is
// strictly before the cutoff. Used by the auto-close sweep.
func (r Repo) ResolvedBefore(ctx context.Context, tx *sql.Tx, cutoff time.Time) ([]domain.Ticket, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE status=? AND status_updated_at<? ORDER BY seq ASC`,
		string(domain.TicketResolved), formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertEscalation(ctx context.Context, tx *sql.Tx, e domain.Escalation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escalations(id,order_id,task_id,target,reason,raised_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.OrderID, e.TaskID, string(e.Target), e.Reason, e.RaisedBy, formatTime(e.CreatedAt))
	return err
}

func (r Repo) ListEscalations(ctx context.Context, orderID string) ([]domain.Escalation, error) {
	query := `SELECT id,order_id,task_id,target,reason,raised_by,created_at FROM escalations`
	var args []any
	if orderID != "" {
		query += ` WHERE order_id=?`
		args = append(args, orderID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Escalation
	for rows.Next() {
		var e domain.Escalation
		var target, createdAt string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.TaskID, &target, &e.Reason, &e.RaisedBy, &createdAt); err != nil {
			return nil, err
		}
		e.Target = domain.EscalationTarget(target)
		if e.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than afterID.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(order_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrderID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// TailEvents returns the most recent limit events, oldest first.
func (r Repo) TailEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(order_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrderID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
