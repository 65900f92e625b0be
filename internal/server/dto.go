package server

import (
	"errors"
	"time"

	"controltower/internal/derive"
	"controltower/internal/domain"
	"controltower/internal/refdata"
)

// Request payloads

type LoginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type SubmitTicketRequest struct {
	OrderID     string `json:"order_id"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type ReassignTicketRequest struct {
	Assignee string `json:"assignee"`
}

type TriggerEscalationRequest struct {
	OrderID string `json:"order_id"`
	TaskID  string `json:"task_id"`
	Target  string `json:"target"`
	Reason  string `json:"reason"`
}

// Responses

type LoginResponse struct {
	Token     string    `json:"token"`
	JWT       string    `json:"jwt,omitempty"`
	LoginID   string    `json:"login_id"`
	POCName   string    `json:"poc_name"`
	Persona   string    `json:"persona"`
	OrderID   string    `json:"order_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at" format:"date-time"`
}

// OrderView is an order with its derived health fields attached.
type OrderView struct {
	domain.Order
	AgeingDays int        `json:"ageing_days"`
	DerivedRAG domain.RAG `json:"derived_rag"`
	Milestone  string     `json:"milestone"`
	RoutedTeam string     `json:"routed_team"`
}

// TaskView is a task execution with ageing, hold decode and the next
// dictionary task attached.
type TaskView struct {
	domain.TaskExecution
	AgeingHours float64 `json:"ageing_hours"`
	HoldDecoded string  `json:"hold_decoded"`
	NextTaskID  string  `json:"next_task_id,omitempty"`
	NextTask    string  `json:"next_task,omitempty"`
	LastTask    bool    `json:"last_task,omitempty"`
}

// OrderDetail is the per-order deep dive.
type OrderDetail struct {
	OrderView
	Tasks       []TaskView             `json:"tasks"`
	Timeline    []derive.MilestoneStep `json:"timeline"`
	Tickets     []domain.Ticket        `json:"tickets"`
	Escalations []domain.Escalation    `json:"escalations"`
}

type SummaryResponse struct {
	derive.PortfolioSummary
	Holds []derive.HoldStat `json:"holds"`
}

// InboxResponse is an operations engineer's work queue.
type InboxResponse struct {
	Assignee string          `json:"assignee"`
	Tasks    []TaskView      `json:"tasks"`
	Tickets  []domain.Ticket `json:"tickets"`
}

func toOrderView(o domain.Order, now time.Time) OrderView {
	return OrderView{
		Order:      o,
		AgeingDays: derive.AgeingDays(o, now),
		DerivedRAG: derive.DerivedRAG(o),
		Milestone:  derive.Milestones[derive.MilestoneIndex(o.Lifecycle)],
		RoutedTeam: string(derive.RoutedTeam(o.Lifecycle)),
	}
}

func toOrderViews(orders []domain.Order, now time.Time) []OrderView {
	out := make([]OrderView, len(orders))
	for i, o := range orders {
		out[i] = toOrderView(o, now)
	}
	return out
}

func toTaskView(ref *refdata.ReferenceData, t domain.TaskExecution, now time.Time) TaskView {
	v := TaskView{
		TaskExecution: t,
		AgeingHours:   derive.AgeingHours(t, now),
		HoldDecoded:   derive.DecodeHold(ref, t.HoldReasonCode),
	}
	next, err := derive.NextTask(ref, t.Lifecycle, t.TaskID)
	switch {
	case err == nil:
		v.NextTaskID = next.TaskID
		v.NextTask = next.TaskName
	case errors.Is(err, derive.ErrLastTask):
		v.LastTask = true
	}
	return v
}

func toTaskViews(ref *refdata.ReferenceData, tasks []domain.TaskExecution, now time.Time) []TaskView {
	out := make([]TaskView, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskView(ref, t, now)
	}
	return out
}
