// Package refdata loads the read-only reference tables (orders, task
// executions, task dictionary, hold reasons, credentials) into an in-memory
// snapshot once per process. All accessors hand out copies so derived
// computations can never corrupt the source tables.
package refdata

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"controltower/internal/domain"
	"controltower/internal/repo"
)

// DataSourceError reports missing or malformed reference data. It is fatal
// to startup: callers must abort rather than run against a partial snapshot.
type DataSourceError struct {
	Source string // table or file name
	Column string // set when a required column is absent
	Reason string
}

func (e *DataSourceError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("reference data %s: column %s %s", e.Source, e.Column, e.Reason)
	}
	return fmt.Sprintf("reference data %s: %s", e.Source, e.Reason)
}

var requiredColumns = map[string][]string{
	"orders":          {"order_id", "client_name", "order_type", "lifecycle_stage", "overall_rag", "sla_breach_flag", "order_status", "order_start_date"},
	"task_executions": {"order_id", "task_id", "task_name", "task_status", "assigned_to", "task_start_date", "task_end_date", "actual_hours", "hold_reason_code", "escalation_triggered"},
	"task_dictionary": {"lifecycle_stage", "task_id", "task_name"},
	"hold_reasons":    {"hold_code", "hold_reason", "responsibility", "category", "delayed_tat"},
	"credentials":     {"login_id", "password", "active_flag", "poc_name", "type", "reports_to"},
}

// ReferenceData is the immutable load-once snapshot.
type ReferenceData struct {
	orders      []domain.Order
	tasks       []domain.TaskExecution
	dictionary  []domain.DictionaryEntry
	holdReasons []domain.HoldReason
	credentials []domain.Credential

	ordersByID   map[string]domain.Order
	tasksByOrder map[string][]domain.TaskExecution
	sequences    map[domain.Stage][]domain.DictionaryEntry
	holdByCode   map[string]domain.HoldReason
	credsByLogin map[string]domain.Credential
}

// Load reads and validates all reference tables. It fails with a
// *DataSourceError if a required table or column is absent, if a table is
// empty where data is mandatory, or if a task execution references an
// unknown order.
func Load(ctx context.Context, db *sql.DB) (*ReferenceData, error) {
	r := repo.Repo{DB: db}
	for _, table := range []string{"orders", "task_executions", "task_dictionary", "hold_reasons", "credentials"} {
		cols, err := r.TableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, &DataSourceError{Source: table, Reason: "table is missing"}
		}
		present := make(map[string]bool, len(cols))
		for _, c := range cols {
			present[c] = true
		}
		for _, want := range requiredColumns[table] {
			if !present[want] {
				return nil, &DataSourceError{Source: table, Column: want, Reason: "is missing"}
			}
		}
	}

	orders, err := r.ListOrders(ctx)
	if err != nil {
		return nil, &DataSourceError{Source: "orders", Reason: err.Error()}
	}
	tasks, err := r.ListTaskExecutions(ctx)
	if err != nil {
		return nil, &DataSourceError{Source: "task_executions", Reason: err.Error()}
	}
	dictionary, err := r.ListDictionary(ctx)
	if err != nil {
		return nil, &DataSourceError{Source: "task_dictionary", Reason: err.Error()}
	}
	holdReasons, err := r.ListHoldReasons(ctx)
	if err != nil {
		return nil, &DataSourceError{Source: "hold_reasons", Reason: err.Error()}
	}
	credentials, err := r.ListCredentials(ctx)
	if err != nil {
		return nil, &DataSourceError{Source: "credentials", Reason: err.Error()}
	}
	return FromRows(orders, tasks, dictionary, holdReasons, credentials)
}

// FromRows assembles a snapshot from already-loaded rows, applying the same
// referential checks as Load. Exposed for callers that hold the rows in
// memory already.
func FromRows(orders []domain.Order, tasks []domain.TaskExecution, dictionary []domain.DictionaryEntry, holdReasons []domain.HoldReason, credentials []domain.Credential) (*ReferenceData, error) {
	ref := &ReferenceData{
		orders:       orders,
		tasks:        tasks,
		dictionary:   dictionary,
		holdReasons:  holdReasons,
		credentials:  credentials,
		ordersByID:   make(map[string]domain.Order, len(orders)),
		tasksByOrder: make(map[string][]domain.TaskExecution),
		sequences:    make(map[domain.Stage][]domain.DictionaryEntry),
		holdByCode:   make(map[string]domain.HoldReason, len(holdReasons)),
		credsByLogin: make(map[string]domain.Credential, len(credentials)),
	}
	for _, o := range orders {
		if _, dup := ref.ordersByID[o.ID]; dup {
			return nil, &DataSourceError{Source: "orders", Reason: fmt.Sprintf("duplicate order id %s", o.ID)}
		}
		ref.ordersByID[o.ID] = o
	}
	for _, entry := range dictionary {
		ref.sequences[entry.Lifecycle] = append(ref.sequences[entry.Lifecycle], entry)
	}
	for stage := range ref.sequences {
		seq := ref.sequences[stage]
		sort.Slice(seq, func(i, j int) bool { return seq[i].TaskID < seq[j].TaskID })
	}
	// Task ids must be unique across the whole dictionary: the execution
	// rows join their stage through the task id alone, so a reused id
	// would make the join ambiguous.
	stageByTask := make(map[string]domain.Stage, len(dictionary))
	for _, entry := range dictionary {
		if prev, dup := stageByTask[entry.TaskID]; dup {
			return nil, &DataSourceError{Source: "task_dictionary", Reason: fmt.Sprintf("task id %s appears in stage %q and stage %q", entry.TaskID, prev, entry.Lifecycle)}
		}
		stageByTask[entry.TaskID] = entry.Lifecycle
	}
	for i := range ref.tasks {
		t := &ref.tasks[i]
		if _, ok := ref.ordersByID[t.OrderID]; !ok {
			return nil, &DataSourceError{Source: "task_executions", Reason: fmt.Sprintf("task %s references unknown order %s", t.TaskID, t.OrderID)}
		}
		t.Lifecycle = stageByTask[t.TaskID]
		ref.tasksByOrder[t.OrderID] = append(ref.tasksByOrder[t.OrderID], *t)
	}
	for _, h := range holdReasons {
		ref.holdByCode[h.Code] = h
	}
	for _, c := range credentials {
		ref.credsByLogin[domain.NormalizeIdentity(c.LoginID)] = c
	}
	return ref, nil
}

// Orders returns a copy of all order rows.
func (r *ReferenceData) Orders() []domain.Order {
	out := make([]domain.Order, len(r.orders))
	copy(out, r.orders)
	return out
}

// Tasks returns a copy of all task execution rows.
func (r *ReferenceData) Tasks() []domain.TaskExecution {
	out := make([]domain.TaskExecution, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Dictionary returns a copy of all task dictionary entries.
func (r *ReferenceData) Dictionary() []domain.DictionaryEntry {
	out := make([]domain.DictionaryEntry, len(r.dictionary))
	copy(out, r.dictionary)
	return out
}

// HoldReasons returns a copy of the hold reason lookup rows.
func (r *ReferenceData) HoldReasons() []domain.HoldReason {
	out := make([]domain.HoldReason, len(r.holdReasons))
	copy(out, r.holdReasons)
	return out
}

// Credentials returns a copy of all login credential rows.
func (r *ReferenceData) Credentials() []domain.Credential {
	out := make([]domain.Credential, len(r.credentials))
	copy(out, r.credentials)
	return out
}

// Order resolves an order by id.
func (r *ReferenceData) Order(id string) (domain.Order, bool) {
	o, ok := r.ordersByID[id]
	return o, ok
}

// TasksForOrder returns a copy of the task executions for one order.
func (r *ReferenceData) TasksForOrder(id string) []domain.TaskExecution {
	src := r.tasksByOrder[id]
	out := make([]domain.TaskExecution, len(src))
	copy(out, src)
	return out
}

// StageSequence returns the canonical ordered task sequence for a stage.
func (r *ReferenceData) StageSequence(stage domain.Stage) []domain.DictionaryEntry {
	src := r.sequences[stage]
	out := make([]domain.DictionaryEntry, len(src))
	copy(out, src)
	return out
}

// HoldReason resolves a hold code.
func (r *ReferenceData) HoldReason(code string) (domain.HoldReason, bool) {
	h, ok := r.holdByCode[code]
	return h, ok
}

// Credential resolves a login id (normalized).
func (r *ReferenceData) Credential(loginID string) (domain.Credential, bool) {
	c, ok := r.credsByLogin[domain.NormalizeIdentity(loginID)]
	return c, ok
}
