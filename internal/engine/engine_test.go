package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"controltower/internal/config"
	"controltower/internal/db"
	"controltower/internal/domain"
	"controltower/internal/engine"
	"controltower/internal/migrate"
	"controltower/internal/refdata"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

// Advance moves the injected clock forward.
func (env *testEnv) Advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func testSnapshot(t *testing.T) *refdata.ReferenceData {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{ID: "ORD-001", ClientName: "Acme", OrderType: "New Install", Lifecycle: domain.StageBuildToOrder, OverallRAG: domain.RAGGreen, OrderStatus: "In Progress", StartDate: start},
		{ID: "ORD-002", ClientName: "Globex", OrderType: "Upgrade", Lifecycle: domain.StageActivation, OverallRAG: domain.RAGAmber, OrderStatus: "In Progress", StartDate: start},
	}
	tasks := []domain.TaskExecution{
		{OrderID: "ORD-001", TaskID: "T-5", TaskName: "Build", Status: domain.TaskInRisk, AssignedTo: "ravi.kumar", StartDate: start},
	}
	dictionary := []domain.DictionaryEntry{
		{Lifecycle: domain.StageBuildToOrder, TaskID: "T-5", TaskName: "Build"},
	}
	creds := []domain.Credential{
		{LoginID: "ravi.kumar", Password: "pw-ravi", Active: true, POCName: "Ravi Kumar", Type: domain.PersonaOperations, ReportsTo: "meera.nair"},
		{LoginID: "priya.patel", Password: "pw-priya", Active: true, POCName: "Priya Patel", Type: domain.PersonaOperations, ReportsTo: "meera.nair"},
		{LoginID: "dev.anand", Password: "pw-dev", Active: true, POCName: "Dev Anand", Type: domain.PersonaOperations, ReportsTo: "sanjay.rao"},
		{LoginID: "meera.nair", Password: "pw-meera", Active: true, POCName: "Meera Nair", Type: domain.PersonaProgramManager},
		{LoginID: "gone.engineer", Password: "pw-gone", Active: false, POCName: "Gone Engineer", Type: domain.PersonaOperations},
		{LoginID: "cust1", Password: "pw-cust", Active: true, POCName: "Alice", Type: domain.PersonaCustomer, OrderID: "ORD-001"},
	}
	ref, err := refdata.FromRows(orders, tasks, dictionary, nil, creds)
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	return ref
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng := engine.New(conn, testSnapshot(t), config.Default())
	eng.Now = func() time.Time { return now }
	eng.Events.Now = eng.Now
	return &testEnv{Engine: eng, Ctx: context.Background(), now: &now}
}

func submit(t *testing.T, env *testEnv) domain.Ticket {
	t.Helper()
	tk, err := env.Engine.SubmitTicket(env.Ctx, engine.SubmitTicketOptions{
		OrderID:     "ORD-001",
		Customer:    "Alice",
		Category:    domain.CategoryStageDelay,
		Description: "No movement in 3 days",
		ActorID:     "cust1",
	})
	if err != nil {
		t.Fatalf("submit ticket: %v", err)
	}
	return tk
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.Authenticate(env.Ctx, "ravi.kumar", "pw-ravi")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if s.Token == "" || s.Persona != domain.PersonaOperations || s.POCName != "Ravi Kumar" {
		t.Fatalf("session = %+v", s)
	}
	got, err := env.Engine.SessionByToken(env.Ctx, s.Token)
	if err != nil || got.LoginID != "ravi.kumar" {
		t.Fatalf("resolve session: %+v, %v", got, err)
	}

	var authErr *engine.AuthenticationError
	for name, attempt := range map[string][2]string{
		"wrong password": {"ravi.kumar", "nope"},
		"unknown login":  {"who.dis", "pw"},
		"inactive":       {"gone.engineer", "pw-gone"},
		"case mismatch":  {"Ravi.Kumar", "pw-ravi"},
	} {
		if _, err := env.Engine.Authenticate(env.Ctx, attempt[0], attempt[1]); !errors.As(err, &authErr) {
			t.Errorf("%s: err = %v, want *AuthenticationError", name, err)
		}
	}
}

func TestSessionExpiryAndLogout(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.Authenticate(env.Ctx, "ravi.kumar", "pw-ravi")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	env.Advance(env.Engine.Config.SessionTTL() + time.Minute)
	var authErr *engine.AuthenticationError
	if _, err := env.Engine.SessionByToken(env.Ctx, s.Token); !errors.As(err, &authErr) {
		t.Fatalf("expired session err = %v", err)
	}
	if err := env.Engine.Logout(env.Ctx, s.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := env.Engine.Logout(env.Ctx, s.Token); err != nil {
		t.Fatalf("repeat logout should be a no-op, got %v", err)
	}
}

func TestCustomerSessionBoundToOrder(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.Authenticate(env.Ctx, "cust1", "pw-cust")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if s.Persona != domain.PersonaCustomer || s.OrderID != "ORD-001" {
		t.Fatalf("session = %+v", s)
	}
}

func TestTicketLifecycleEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	tk := submit(t, env)
	if tk.ID != "TCKT_0001" {
		t.Fatalf("ticket id = %s", tk.ID)
	}
	if tk.Status != domain.TicketOpen || tk.RoutedTeam != "OPS_B2O" || tk.Lifecycle != domain.StageBuildToOrder {
		t.Fatalf("ticket = %+v", tk)
	}
	if tk.AssignedTo != "" {
		t.Fatalf("new ticket should be unassigned, got %q", tk.AssignedTo)
	}

	tk, err := env.Engine.AcknowledgeTicket(env.Ctx, tk.ID, "ravi.kumar")
	if err != nil || tk.Status != domain.TicketAcknowledged {
		t.Fatalf("acknowledge: %+v, %v", tk, err)
	}
	if tk.AssignedTo != "ravi.kumar" {
		t.Fatalf("acknowledge should claim the ticket, got %q", tk.AssignedTo)
	}
	tk, err = env.Engine.StartTicketWork(env.Ctx, tk.ID, "ravi.kumar")
	if err != nil || tk.Status != domain.TicketInProgress {
		t.Fatalf("start work: %+v, %v", tk, err)
	}
	tk, err = env.Engine.ResolveTicket(env.Ctx, tk.ID, "ravi.kumar")
	if err != nil || tk.Status != domain.TicketResolved {
		t.Fatalf("resolve: %+v, %v", tk, err)
	}
	if !tk.CustomerNotified {
		t.Fatal("resolve should notify the customer")
	}

	// Three hours later, any read path closes it.
	env.Advance(3 * time.Hour)
	got, err := env.Engine.GetTicket(env.Ctx, tk.ID)
	if err != nil || got.Status != domain.TicketClosed {
		t.Fatalf("after sweep: %+v, %v", got, err)
	}
}

func TestTicketSkipTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	tk := submit(t, env)
	_, err := env.Engine.StartTicketWork(env.Ctx, tk.ID, "ravi.kumar")
	var ite *engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want *InvalidTransitionError", err)
	}
	if ite.From != domain.TicketOpen || ite.To != domain.TicketInProgress {
		t.Fatalf("transition = %+v", ite)
	}
	got, err := env.Engine.GetTicket(env.Ctx, tk.ID)
	if err != nil || got.Status != domain.TicketOpen {
		t.Fatalf("failed transition must not change state: %+v, %v", got, err)
	}
}

func TestSubmitTicketValidation(t *testing.T) {
	env := newTestEnv(t)
	var ve *engine.ValidationError
	_, err := env.Engine.SubmitTicket(env.Ctx, engine.SubmitTicketOptions{
		OrderID: "ORD-001", Customer: "Alice", Category: domain.CategoryOther, ActorID: "cust1",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("empty description err = %v", err)
	}
	_, err = env.Engine.SubmitTicket(env.Ctx, engine.SubmitTicketOptions{
		OrderID: "ORD-001", Customer: "Alice", Category: "Gripe", Description: "x", ActorID: "cust1",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("unknown category err = %v", err)
	}
	var nfe *domain.NotFoundError
	_, err = env.Engine.SubmitTicket(env.Ctx, engine.SubmitTicketOptions{
		OrderID: "ORD-404", Customer: "Alice", Category: domain.CategoryOther, Description: "x", ActorID: "cust1",
	})
	if !errors.As(err, &nfe) {
		t.Fatalf("unknown order err = %v", err)
	}
}

func TestAutoCloseSweepIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tk := submit(t, env)
	if _, err := env.Engine.AcknowledgeTicket(env.Ctx, tk.ID, "ravi.kumar"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartTicketWork(env.Ctx, tk.ID, "ravi.kumar"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ResolveTicket(env.Ctx, tk.ID, "ravi.kumar"); err != nil {
		t.Fatal(err)
	}
	env.Advance(3 * time.Hour)
	for i := 0; i < 2; i++ {
		got, err := env.Engine.GetTicket(env.Ctx, tk.ID)
		if err != nil || got.Status != domain.TicketClosed {
			t.Fatalf("read %d: %+v, %v", i, got, err)
		}
	}
	var n int
	if err := env.Engine.DB.QueryRow(`SELECT COUNT(*) FROM events WHERE type='ticket.auto_closed'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("auto_closed events = %d, want 1", n)
	}
}

func TestResolvedTicketNotClosedEarly(t *testing.T) {
	env := newTestEnv(t)
	tk := submit(t, env)
	for _, step := range []func(context.Context, string, string) (domain.Ticket, error){
		env.Engine.AcknowledgeTicket, env.Engine.StartTicketWork, env.Engine.ResolveTicket,
	} {
		if _, err := step(env.Ctx, tk.ID, "ravi.kumar"); err != nil {
			t.Fatal(err)
		}
	}
	env.Advance(time.Hour)
	got, err := env.Engine.GetTicket(env.Ctx, tk.ID)
	if err != nil || got.Status != domain.TicketResolved {
		t.Fatalf("one hour in: %+v, %v", got, err)
	}
}

func TestTransitionAuthority(t *testing.T) {
	env := newTestEnv(t)
	tk := submit(t, env)
	if _, err := env.Engine.AcknowledgeTicket(env.Ctx, tk.ID, "ravi.kumar"); err != nil {
		t.Fatal(err)
	}
	// A peer who is neither assignee nor manager cannot act on it.
	var fe *engine.ForbiddenError
	if _, err := env.Engine.StartTicketWork(env.Ctx, tk.ID, "dev.anand"); !errors.As(err, &fe) {
		t.Fatalf("peer err = %v, want *ForbiddenError", err)
	}
	// The assignee's manager can.
	if _, err := env.Engine.StartTicketWork(env.Ctx, tk.ID, "meera.nair"); err != nil {
		t.Fatalf("manager transition: %v", err)
	}
	// Normalized identity: "Ravi Kumar" is the same actor as "ravi.kumar".
	if _, err := env.Engine.ResolveTicket(env.Ctx, tk.ID, "Ravi Kumar"); err != nil {
		t.Fatalf("normalized assignee transition: %v", err)
	}
}

func TestReassignTicket(t *testing.T) {
	env := newTestEnv(t)
	tk := submit(t, env)
	if _, err := env.Engine.AcknowledgeTicket(env.Ctx, tk.ID, "ravi.kumar"); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.ReassignTicket(env.Ctx, tk.ID, "priya.patel", "meera.nair")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.AssignedTo != "priya.patel" || got.Status != domain.TicketAcknowledged {
		t.Fatalf("reassign must move the assignee only: %+v", got)
	}

	var fe *engine.ForbiddenError
	// dev.anand reports to a different manager.
	if _, err := env.Engine.ReassignTicket(env.Ctx, tk.ID, "dev.anand", "meera.nair"); !errors.As(err, &fe) {
		t.Fatalf("foreign reportee err = %v", err)
	}
	// ravi.kumar is not a manager of priya.patel.
	if _, err := env.Engine.ReassignTicket(env.Ctx, tk.ID, "ravi.kumar", "ravi.kumar"); !errors.As(err, &fe) {
		t.Fatalf("non-manager err = %v", err)
	}
}

func TestReassignClosedTicketRejected(t *testing.T) {
	env := newTestEnv(t)
	tk := submit(t, env)
	for _, step := range []func(context.Context, string, string) (domain.Ticket, error){
		env.Engine.AcknowledgeTicket, env.Engine.StartTicketWork, env.Engine.ResolveTicket,
	} {
		if _, err := step(env.Ctx, tk.ID, "ravi.kumar"); err != nil {
			t.Fatal(err)
		}
	}
	env.Advance(3 * time.Hour)
	if _, err := env.Engine.GetTicket(env.Ctx, tk.ID); err != nil {
		t.Fatal(err)
	}
	var ite *engine.InvalidTransitionError
	if _, err := env.Engine.ReassignTicket(env.Ctx, tk.ID, "priya.patel", "meera.nair"); !errors.As(err, &ite) {
		t.Fatalf("closed reassign err = %v", err)
	}
}

func TestTicketQueues(t *testing.T) {
	env := newTestEnv(t)
	first := submit(t, env)
	second := submit(t, env)
	if second.ID != "TCKT_0002" {
		t.Fatalf("second id = %s", second.ID)
	}
	if _, err := env.Engine.AcknowledgeTicket(env.Ctx, first.ID, "ravi.kumar"); err != nil {
		t.Fatal(err)
	}

	mine, err := env.Engine.TicketsForAssignee(env.Ctx, "Ravi Kumar")
	if err != nil || len(mine) != 1 || mine[0].ID != first.ID {
		t.Fatalf("assignee queue = %+v, %v", mine, err)
	}
	team, err := env.Engine.TeamTickets(env.Ctx, "meera.nair")
	if err != nil || len(team) != 2 {
		t.Fatalf("team queue = %+v, %v", team, err)
	}
	// A manager with no reportees only sees the unassigned backlog.
	other, err := env.Engine.TeamTickets(env.Ctx, "sanjay.rao")
	if err != nil || len(other) != 1 || other[0].ID != second.ID {
		t.Fatalf("other team queue = %+v, %v", other, err)
	}
	forOrder, err := env.Engine.TicketsForOrder(env.Ctx, "ORD-001")
	if err != nil || len(forOrder) != 2 {
		t.Fatalf("order queue = %+v, %v", forOrder, err)
	}
}

func TestTriggerEscalation(t *testing.T) {
	env := newTestEnv(t)
	before := env.Engine.Now()
	esc, err := env.Engine.TriggerEscalation(env.Ctx, "ORD-001", "T-5", domain.TargetDeliveryHead, "SLA at risk", "meera.nair")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if esc.ID == "" || esc.Target != domain.TargetDeliveryHead || esc.RaisedBy != "meera.nair" {
		t.Fatalf("escalation = %+v", esc)
	}
	if esc.CreatedAt.Before(before) {
		t.Fatalf("created %v before call time %v", esc.CreatedAt, before)
	}
	all, err := env.Engine.EscalationsForOrder(env.Ctx, "ORD-001")
	if err != nil || len(all) != 1 || all[0].Reason != "SLA at risk" {
		t.Fatalf("list = %+v, %v", all, err)
	}

	var ve *engine.ValidationError
	if _, err := env.Engine.TriggerEscalation(env.Ctx, "ORD-001", "T-5", "The Board", "x", "meera.nair"); !errors.As(err, &ve) {
		t.Fatalf("bad target err = %v", err)
	}
	if _, err := env.Engine.TriggerEscalation(env.Ctx, "ORD-001", "T-5", domain.TargetDeliveryHead, "", "meera.nair"); !errors.As(err, &ve) {
		t.Fatalf("empty reason err = %v", err)
	}
}
