package derive

import (
	"errors"
	"fmt"
	"time"

	"controltower/internal/domain"
	"controltower/internal/refdata"
)

// HoldNone is returned by DecodeHold when a task carries no hold code or
// the code has no dictionary row.
const HoldNone = "No hold applied"

// ErrLastTask marks the end of a stage's task sequence. Callers distinguish
// it from NotFoundError, which signals a broken task reference.
var ErrLastTask = errors.New("last task in stage sequence")

// AgeingDays is the whole days elapsed since the order started. Always
// recomputed from the caller's clock.
func AgeingDays(o domain.Order, now time.Time) int {
	d := now.Sub(o.StartDate)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// AgeingHours is the fractional hours elapsed since the task started.
func AgeingHours(t domain.TaskExecution, now time.Time) float64 {
	d := now.Sub(t.StartDate)
	if d < 0 {
		return 0
	}
	return d.Hours()
}

// DerivedRAG rolls the stored rating and the SLA breach flag into one
// rating: a breach is always Red, a stored Amber stays Amber, everything
// else is Green.
func DerivedRAG(o domain.Order) domain.RAG {
	switch {
	case o.SLABreached:
		return domain.RAGRed
	case o.OverallRAG == domain.RAGAmber:
		return domain.RAGAmber
	default:
		return domain.RAGGreen
	}
}

// DecodeHold expands a hold code into its dictionary explanation. An empty
// or unknown code yields HoldNone rather than an error.
func DecodeHold(ref *refdata.ReferenceData, code string) string {
	if code == "" {
		return HoldNone
	}
	h, ok := ref.HoldReason(code)
	if !ok {
		return HoldNone
	}
	return fmt.Sprintf("%s: %s (%s, %s, TAT %s)", h.Code, h.Reason, h.Responsibility, h.Category, h.DelayedTAT)
}

// NextTask returns the dictionary entry immediately after currentTaskID in
// the stage's ordered sequence. It returns ErrLastTask when currentTaskID
// is the final entry, and a *domain.NotFoundError when currentTaskID is not
// in the sequence at all, which means the execution row references a task
// outside its own stage's dictionary.
func NextTask(ref *refdata.ReferenceData, stage domain.Stage, currentTaskID string) (domain.DictionaryEntry, error) {
	seq := ref.StageSequence(stage)
	for i, entry := range seq {
		if entry.TaskID != currentTaskID {
			continue
		}
		if i == len(seq)-1 {
			return domain.DictionaryEntry{}, ErrLastTask
		}
		return seq[i+1], nil
	}
	return domain.DictionaryEntry{}, &domain.NotFoundError{Kind: "task", ID: currentTaskID}
}

// OrderFilter selects orders by conjunction of its dimensions. An empty
// slice on a dimension means no constraint. RAG matches the derived rating,
// not the stored one.
type OrderFilter struct {
	Lifecycles []domain.Stage
	RAGs       []domain.RAG
	OrderTypes []string
	SLABreach  []bool
}

// FilterOrders applies the filter, preserving input order.
func FilterOrders(orders []domain.Order, f OrderFilter) []domain.Order {
	var out []domain.Order
	for _, o := range orders {
		if !containsStage(f.Lifecycles, o.Lifecycle) {
			continue
		}
		if !containsRAG(f.RAGs, DerivedRAG(o)) {
			continue
		}
		if !containsString(f.OrderTypes, o.OrderType) {
			continue
		}
		if !containsBool(f.SLABreach, o.SLABreached) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// TaskFilter selects task executions with the same conjunctive semantics
// as OrderFilter. Assignees are matched after identity normalization.
type TaskFilter struct {
	Statuses   []domain.TaskStatus
	Lifecycles []domain.Stage
	Assignees  []string
}

// FilterTasks applies the filter, preserving input order.
func FilterTasks(tasks []domain.TaskExecution, f TaskFilter) []domain.TaskExecution {
	var out []domain.TaskExecution
	for _, t := range tasks {
		if !containsStatus(f.Statuses, t.Status) {
			continue
		}
		if !containsStage(f.Lifecycles, t.Lifecycle) {
			continue
		}
		if !containsIdentity(f.Assignees, t.AssignedTo) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// MyActiveTasks returns the tasks currently In Progress for one assignee.
// Identity matching is normalized; the status match is exact.
func MyActiveTasks(tasks []domain.TaskExecution, assignee string) []domain.TaskExecution {
	var out []domain.TaskExecution
	for _, t := range tasks {
		if t.Status == domain.TaskInProgress && domain.SameIdentity(t.AssignedTo, assignee) {
			out = append(out, t)
		}
	}
	return out
}

// TeamReportees returns the login ids of every credential reporting to the
// given manager, matched on normalized identities.
func TeamReportees(credentials []domain.Credential, manager string) []string {
	var out []string
	for _, c := range credentials {
		if c.ReportsTo != "" && domain.SameIdentity(c.ReportsTo, manager) {
			out = append(out, c.LoginID)
		}
	}
	return out
}

// IsReportee reports whether identity reports to manager in the credential
// table, matched on normalized identities.
func IsReportee(credentials []domain.Credential, manager, identity string) bool {
	for _, c := range credentials {
		if domain.SameIdentity(c.LoginID, identity) {
			return c.ReportsTo != "" && domain.SameIdentity(c.ReportsTo, manager)
		}
	}
	return false
}

func containsStage(set []domain.Stage, v domain.Stage) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsRAG(set []domain.RAG, v domain.RAG) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsStatus(set []domain.TaskStatus, v domain.TaskStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsBool(set []bool, v bool) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsIdentity(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if domain.SameIdentity(s, v) {
			return true
		}
	}
	return false
}
