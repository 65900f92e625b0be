package domain

import "time"

// Stage is a delivery order's lifecycle stage. The set is fixed; the
// milestone and team routing tables in internal/derive cover every value.
type Stage string

const (
	StageLeadToOrder   Stage = "Lead to Order"
	StageOnboarding    Stage = "Customer Onboarding"
	StageBuildToOrder  Stage = "Build to Order"
	StageLastMileWless Stage = "Last Mile Build – Wireless"
	StageLastMileFiber Stage = "Last Mile Build – Fiber"
	StageActivation    Stage = "Order to Activation"
	StageCompleted     Stage = "Completed"
)

// Stages lists every known lifecycle stage in process order.
var Stages = []Stage{
	StageLeadToOrder,
	StageOnboarding,
	StageBuildToOrder,
	StageLastMileWless,
	StageLastMileFiber,
	StageActivation,
	StageCompleted,
}

// RAG is the Red/Amber/Green risk rating.
type RAG string

const (
	RAGRed   RAG = "Red"
	RAGAmber RAG = "Amber"
	RAGGreen RAG = "Green"
)

// TaskStatus values come from the task dictionary and are matched exactly.
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "Not Started"
	TaskInProgress TaskStatus = "In Progress"
	TaskCompleted  TaskStatus = "Completed"
	TaskInRisk     TaskStatus = "In Risk"
	TaskOnHold     TaskStatus = "On Hold"
)

// TicketStatus is the support ticket state machine. Transitions are strictly
// forward and single-stepped; Closed is terminal.
type TicketStatus string

const (
	TicketOpen         TicketStatus = "Open"
	TicketAcknowledged TicketStatus = "Acknowledged"
	TicketInProgress   TicketStatus = "In Progress"
	TicketResolved     TicketStatus = "Resolved"
	TicketClosed       TicketStatus = "Closed"
)

// Persona is the role carried by a credential's Type column.
type Persona string

const (
	PersonaProgramManager Persona = "Program Manager"
	PersonaOperations     Persona = "Operations"
	PersonaLeadership     Persona = "Leadership"
	PersonaCustomer       Persona = "Customer"
)

// EscalationTarget enumerates the routing targets a Program Manager may
// escalate to.
type EscalationTarget string

const (
	TargetOperationsManager EscalationTarget = "Operations Manager"
	TargetDeliveryHead      EscalationTarget = "Delivery Head"
	TargetProgramLeadership EscalationTarget = "Program Leadership"
)

// EscalationTargets lists the valid targets.
var EscalationTargets = []EscalationTarget{
	TargetOperationsManager,
	TargetDeliveryHead,
	TargetProgramLeadership,
}

// TicketCategory enumerates the customer-selectable issue types.
type TicketCategory string

const (
	CategoryStageDelay       TicketCategory = "Delay in current stage"
	CategoryNoUpdate         TicketCategory = "No update received"
	CategoryIncorrectDetails TicketCategory = "Incorrect order details"
	CategorySiteReadiness    TicketCategory = "Site readiness issue"
	CategoryOther            TicketCategory = "Other"
)

// TicketCategories lists the valid categories.
var TicketCategories = []TicketCategory{
	CategoryStageDelay,
	CategoryNoUpdate,
	CategoryIncorrectDetails,
	CategorySiteReadiness,
	CategoryOther,
}

// TeamID identifies an operations team bucket.
type TeamID string

// Order is one delivery order row from the reference workbook. Read-only.
type Order struct {
	ID          string    `json:"id"`
	ClientName  string    `json:"client_name"`
	OrderType   string    `json:"order_type"`
	Lifecycle   Stage     `json:"lifecycle_stage"`
	OverallRAG  RAG       `json:"overall_rag"`
	SLABreached bool      `json:"sla_breached"`
	OrderStatus string    `json:"order_status"`
	StartDate   time.Time `json:"start_date" format:"date-time"`
}

// TaskExecution is one (order, task) execution instance. Lifecycle is joined
// from the task dictionary at load time. Read-only.
type TaskExecution struct {
	OrderID             string     `json:"order_id"`
	TaskID              string     `json:"task_id"`
	TaskName            string     `json:"task_name"`
	Status              TaskStatus `json:"status"`
	AssignedTo          string     `json:"assigned_to"`
	Lifecycle           Stage      `json:"lifecycle_stage,omitempty"`
	StartDate           time.Time  `json:"start_date" format:"date-time"`
	EndDate             *time.Time `json:"end_date,omitempty" format:"date-time"`
	ActualHours         float64    `json:"actual_hours"`
	HoldReasonCode      string     `json:"hold_reason_code,omitempty"`
	EscalationTriggered bool       `json:"escalation_triggered"`
}

// DictionaryEntry defines one canonical task in a lifecycle stage's ordered
// sequence. Entries are totally ordered by TaskID within a stage.
type DictionaryEntry struct {
	Lifecycle Stage  `json:"lifecycle_stage"`
	TaskID    string `json:"task_id"`
	TaskName  string `json:"task_name"`
}

// HoldReason decodes a hold code into owner/category/delay text.
type HoldReason struct {
	Code           string `json:"code"`
	Reason         string `json:"reason"`
	Responsibility string `json:"responsibility"`
	Category       string `json:"category"`
	DelayedTAT     string `json:"delayed_tat"`
}

// Credential is one login row. OrderID is only set for customer logins and
// binds the session to that order.
type Credential struct {
	LoginID   string  `json:"login_id"`
	Password  string  `json:"-"`
	Active    bool    `json:"active"`
	POCName   string  `json:"poc_name"`
	Type      Persona `json:"type"`
	ReportsTo string  `json:"reports_to,omitempty"`
	OrderID   string  `json:"order_id,omitempty"`
}

// Session is an authenticated identity for one login.
type Session struct {
	Token     string    `json:"token"`
	LoginID   string    `json:"login_id"`
	POCName   string    `json:"poc_name"`
	Persona   Persona   `json:"persona"`
	OrderID   string    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
	ExpiresAt time.Time `json:"expires_at" format:"date-time"`
}

// Ticket is a customer support ticket tracked through the status state
// machine until resolution and auto-closure. Never deleted.
type Ticket struct {
	ID               string         `json:"id"`
	OrderID          string         `json:"order_id"`
	CustomerName     string         `json:"customer_name"`
	Lifecycle        Stage          `json:"lifecycle_stage"`
	RoutedTeam       TeamID         `json:"routed_team"`
	Category         TicketCategory `json:"category"`
	Description      string         `json:"description"`
	Status           TicketStatus   `json:"status"`
	AssignedTo       string         `json:"assigned_to,omitempty"`
	CustomerNotified bool           `json:"customer_notified"`
	RaisedAt         time.Time      `json:"raised_at" format:"date-time"`
	StatusUpdatedAt  time.Time      `json:"status_updated_at" format:"date-time"`
}

// Escalation is an immutable record requesting higher-tier attention on an
// at-risk order/task. No update or delete operation exists.
type Escalation struct {
	ID        string           `json:"id"`
	OrderID   string           `json:"order_id"`
	TaskID    string           `json:"task_id"`
	Target    EscalationTarget `json:"target"`
	Reason    string           `json:"reason"`
	RaisedBy  string           `json:"raised_by"`
	CreatedAt time.Time        `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrderID    string `json:"order_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
