package repo

import (
	"context"
	"database/sql"

	"controltower/internal/domain"
)

// TableColumns returns the column names of a table, in declared order.
// An empty slice means the table does not exist.
func (r Repo) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func (r Repo) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT order_id,client_name,order_type,lifecycle_stage,overall_rag,sla_breach_flag,order_status,order_start_date
FROM orders ORDER BY order_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		var o domain.Order
		var lifecycle, rag, start string
		var breached int
		if err := rows.Scan(&o.ID, &o.ClientName, &o.OrderType, &lifecycle, &rag, &breached, &o.OrderStatus, &start); err != nil {
			return nil, err
		}
		o.Lifecycle = domain.Stage(lifecycle)
		o.OverallRAG = domain.RAG(rag)
		o.SLABreached = breached != 0
		if o.StartDate, err = ParseTime(start); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) ListTaskExecutions(ctx context.Context) ([]domain.TaskExecution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT order_id,task_id,task_name,task_status,assigned_to,task_start_date,task_end_date,actual_hours,hold_reason_code,escalation_triggered
FROM task_executions ORDER BY order_id ASC, task_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskExecution
	for rows.Next() {
		var t domain.TaskExecution
		var status, start string
		var end, holdCode sql.NullString
		var escalated int
		if err := rows.Scan(&t.OrderID, &t.TaskID, &t.TaskName, &status, &t.AssignedTo, &start, &end, &t.ActualHours, &holdCode, &escalated); err != nil {
			return nil, err
		}
		t.Status = domain.TaskStatus(status)
		if t.StartDate, err = ParseTime(start); err != nil {
			return nil, err
		}
		if end.Valid && end.String != "" {
			ts, err := ParseTime(end.String)
			if err != nil {
				return nil, err
			}
			t.EndDate = &ts
		}
		if holdCode.Valid {
			t.HoldReasonCode = holdCode.String
		}
		t.EscalationTriggered = escalated != 0
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListDictionary(ctx context.Context) ([]domain.DictionaryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT lifecycle_stage,task_id,task_name FROM task_dictionary ORDER BY lifecycle_stage ASC, task_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DictionaryEntry
	for rows.Next() {
		var d domain.DictionaryEntry
		var lifecycle string
		if err := rows.Scan(&lifecycle, &d.TaskID, &d.TaskName); err != nil {
			return nil, err
		}
		d.Lifecycle = domain.Stage(lifecycle)
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) ListHoldReasons(ctx context.Context) ([]domain.HoldReason, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT hold_code,hold_reason,responsibility,category,delayed_tat FROM hold_reasons ORDER BY hold_code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HoldReason
	for rows.Next() {
		var h domain.HoldReason
		if err := rows.Scan(&h.Code, &h.Reason, &h.Responsibility, &h.Category, &h.DelayedTAT); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) ListCredentials(ctx context.Context) ([]domain.Credential, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT login_id,password,active_flag,poc_name,type,reports_to,order_id FROM credentials ORDER BY login_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Credential
	for rows.Next() {
		var c domain.Credential
		var active int
		var persona string
		var reportsTo, orderID sql.NullString
		if err := rows.Scan(&c.LoginID, &c.Password, &active, &c.POCName, &persona, &reportsTo, &orderID); err != nil {
			return nil, err
		}
		c.Active = active != 0
		c.Type = domain.Persona(persona)
		if reportsTo.Valid {
			c.ReportsTo = reportsTo.String
		}
		if orderID.Valid {
			c.OrderID = orderID.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Replace* swap a reference table's contents wholesale inside one
// transaction. Used only by the workbook import.

func (r Repo) ReplaceOrders(ctx context.Context, tx *sql.Tx, orders []domain.Order) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return err
	}
	for _, o := range orders {
		if _, err := tx.ExecContext(ctx, `INSERT INTO orders(order_id,client_name,order_type,lifecycle_stage,overall_rag,sla_breach_flag,order_status,order_start_date)
VALUES (?,?,?,?,?,?,?,?)`,
			o.ID, o.ClientName, o.OrderType, string(o.Lifecycle), string(o.OverallRAG), boolToInt(o.SLABreached), o.OrderStatus, formatTime(o.StartDate)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ReplaceTaskExecutions(ctx context.Context, tx *sql.Tx, tasks []domain.TaskExecution) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_executions`); err != nil {
		return err
	}
	for _, t := range tasks {
		var end any
		if t.EndDate != nil {
			end = formatTime(*t.EndDate)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_executions(order_id,task_id,task_name,task_status,assigned_to,task_start_date,task_end_date,actual_hours,hold_reason_code,escalation_triggered)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			t.OrderID, t.TaskID, t.TaskName, string(t.Status), t.AssignedTo, formatTime(t.StartDate), end, t.ActualHours, nullable(t.HoldReasonCode), boolToInt(t.EscalationTriggered)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ReplaceDictionary(ctx context.Context, tx *sql.Tx, entries []domain.DictionaryEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dictionary`); err != nil {
		return err
	}
	for _, d := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_dictionary(lifecycle_stage,task_id,task_name) VALUES (?,?,?)`,
			string(d.Lifecycle), d.TaskID, d.TaskName); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ReplaceHoldReasons(ctx context.Context, tx *sql.Tx, reasons []domain.HoldReason) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM hold_reasons`); err != nil {
		return err
	}
	for _, h := range reasons {
		if _, err := tx.ExecContext(ctx, `INSERT INTO hold_reasons(hold_code,hold_reason,responsibility,category,delayed_tat) VALUES (?,?,?,?,?)`,
			h.Code, h.Reason, h.Responsibility, h.Category, h.DelayedTAT); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ReplaceCredentials(ctx context.Context, tx *sql.Tx, creds []domain.Credential) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return err
	}
	for _, c := range creds {
		if _, err := tx.ExecContext(ctx, `INSERT INTO credentials(login_id,password,active_flag,poc_name,type,reports_to,order_id) VALUES (?,?,?,?,?,?,?)`,
			c.LoginID, c.Password, boolToInt(c.Active), c.POCName, string(c.Type), nullable(c.ReportsTo), nullable(c.OrderID)); err != nil {
			return err
		}
	}
	return nil
}
