package derive

import (
	"errors"
	"testing"
	"time"

	"controltower/internal/domain"
	"controltower/internal/refdata"
)

func testRef(t *testing.T) *refdata.ReferenceData {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{ID: "ORD-001", ClientName: "Acme", OrderType: "New Install", Lifecycle: domain.StageBuildToOrder, OverallRAG: domain.RAGGreen, SLABreached: true, OrderStatus: "In Progress", StartDate: start},
		{ID: "ORD-002", ClientName: "Globex", OrderType: "Upgrade", Lifecycle: domain.StageActivation, OverallRAG: domain.RAGAmber, OrderStatus: "In Progress", StartDate: start.AddDate(0, 0, 5)},
		{ID: "ORD-003", ClientName: "Initech", OrderType: "New Install", Lifecycle: domain.StageCompleted, OverallRAG: domain.RAGGreen, OrderStatus: "Completed", StartDate: start},
	}
	tasks := []domain.TaskExecution{
		{OrderID: "ORD-001", TaskID: "T1", TaskName: "Design", Status: domain.TaskCompleted, AssignedTo: "j.smith", StartDate: start},
		{OrderID: "ORD-001", TaskID: "T2", TaskName: "Build", Status: domain.TaskInProgress, AssignedTo: "j.smith", StartDate: start, HoldReasonCode: ""},
		{OrderID: "ORD-002", TaskID: "T3", TaskName: "Activate", Status: domain.TaskOnHold, AssignedTo: "priya.patel", StartDate: start, HoldReasonCode: "H01", EscalationTriggered: true},
	}
	dictionary := []domain.DictionaryEntry{
		{Lifecycle: domain.StageBuildToOrder, TaskID: "T1", TaskName: "Design"},
		{Lifecycle: domain.StageBuildToOrder, TaskID: "T2", TaskName: "Build"},
		{Lifecycle: domain.StageBuildToOrder, TaskID: "T3", TaskName: "Activate"},
	}
	holds := []domain.HoldReason{
		{Code: "H01", Reason: "Awaiting permits", Responsibility: "Customer", Category: "External", DelayedTAT: "72h"},
	}
	creds := []domain.Credential{
		{LoginID: "j.smith", Active: true, POCName: "J Smith", Type: domain.PersonaOperations, ReportsTo: "meera.nair"},
		{LoginID: "priya.patel", Active: true, POCName: "Priya Patel", Type: domain.PersonaOperations, ReportsTo: "meera.nair"},
		{LoginID: "meera.nair", Active: true, POCName: "Meera Nair", Type: domain.PersonaProgramManager},
	}
	ref, err := refdata.FromRows(orders, tasks, dictionary, holds, creds)
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	return ref
}

func TestDerivedRAGExhaustive(t *testing.T) {
	cases := []struct {
		breached bool
		stored   domain.RAG
		want     domain.RAG
	}{
		{true, domain.RAGRed, domain.RAGRed},
		{true, domain.RAGAmber, domain.RAGRed},
		{true, domain.RAGGreen, domain.RAGRed},
		{false, domain.RAGRed, domain.RAGGreen},
		{false, domain.RAGAmber, domain.RAGAmber},
		{false, domain.RAGGreen, domain.RAGGreen},
	}
	for _, c := range cases {
		got := DerivedRAG(domain.Order{SLABreached: c.breached, OverallRAG: c.stored})
		if got != c.want {
			t.Errorf("breached=%v stored=%s: got %s, want %s", c.breached, c.stored, got, c.want)
		}
	}
}

func TestAgeing(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := start.Add(49*time.Hour + 30*time.Minute)
	if d := AgeingDays(domain.Order{StartDate: start}, now); d != 2 {
		t.Fatalf("AgeingDays = %d, want 2", d)
	}
	if h := AgeingHours(domain.TaskExecution{StartDate: start}, now); h != 49.5 {
		t.Fatalf("AgeingHours = %v, want 49.5", h)
	}
	if d := AgeingDays(domain.Order{StartDate: start}, start.Add(-time.Hour)); d != 0 {
		t.Fatalf("negative ageing should clamp to 0, got %d", d)
	}
}

func TestRoutedTeam(t *testing.T) {
	if got := RoutedTeam(domain.StageBuildToOrder); got != "OPS_B2O" {
		t.Fatalf("got %s", got)
	}
	if got := RoutedTeam(domain.StageCompleted); got != TeamGeneral {
		t.Fatalf("completed stage should route to %s, got %s", TeamGeneral, got)
	}
	if got := RoutedTeam(domain.Stage("Mystery Stage")); got != TeamGeneral {
		t.Fatalf("unknown stage should route to %s, got %s", TeamGeneral, got)
	}
}

func TestMilestoneIndex(t *testing.T) {
	cases := map[domain.Stage]int{
		domain.StageLeadToOrder:   0,
		domain.StageOnboarding:    0,
		domain.StageBuildToOrder:  1,
		domain.StageLastMileWless: 1,
		domain.StageLastMileFiber: 1,
		domain.StageActivation:    3,
		domain.StageCompleted:     4,
	}
	for stage, want := range cases {
		if got := MilestoneIndex(stage); got != want {
			t.Errorf("MilestoneIndex(%s) = %d, want %d", stage, got, want)
		}
	}
	if got := MilestoneIndex(domain.Stage("Mystery Stage")); got != MilestoneDefaultIndex {
		t.Errorf("unknown stage = %d, want %d", got, MilestoneDefaultIndex)
	}
}

func TestDecodeHold(t *testing.T) {
	ref := testRef(t)
	if got := DecodeHold(ref, ""); got != HoldNone {
		t.Fatalf("empty code = %q", got)
	}
	if got := DecodeHold(ref, "H99"); got != HoldNone {
		t.Fatalf("unknown code = %q", got)
	}
	got := DecodeHold(ref, "H01")
	if got != "H01: Awaiting permits (Customer, External, TAT 72h)" {
		t.Fatalf("decoded = %q", got)
	}
}

func TestNextTask(t *testing.T) {
	ref := testRef(t)
	next, err := NextTask(ref, domain.StageBuildToOrder, "T1")
	if err != nil || next.TaskID != "T2" {
		t.Fatalf("next after T1 = %+v, %v", next, err)
	}
	if _, err := NextTask(ref, domain.StageBuildToOrder, "T3"); !errors.Is(err, ErrLastTask) {
		t.Fatalf("last task err = %v, want ErrLastTask", err)
	}
	_, err = NextTask(ref, domain.StageBuildToOrder, "T99")
	var nfe *domain.NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("unknown task err = %v, want *NotFoundError", err)
	}
}

func TestFilterOrdersConjunction(t *testing.T) {
	ref := testRef(t)
	got := FilterOrders(ref.Orders(), OrderFilter{RAGs: []domain.RAG{domain.RAGRed}})
	if len(got) != 1 || got[0].ID != "ORD-001" {
		t.Fatalf("red filter = %+v", got)
	}
	got = FilterOrders(ref.Orders(), OrderFilter{})
	if len(got) != 3 {
		t.Fatalf("empty filter should pass everything, got %d", len(got))
	}
	got = FilterOrders(ref.Orders(), OrderFilter{
		Lifecycles: []domain.Stage{domain.StageActivation},
		RAGs:       []domain.RAG{domain.RAGAmber},
	})
	if len(got) != 1 || got[0].ID != "ORD-002" {
		t.Fatalf("conjunctive filter = %+v", got)
	}
}

func TestFilterTasks(t *testing.T) {
	ref := testRef(t)
	got := FilterTasks(ref.Tasks(), TaskFilter{Statuses: []domain.TaskStatus{domain.TaskOnHold}})
	if len(got) != 1 || got[0].TaskID != "T3" {
		t.Fatalf("on-hold filter = %+v", got)
	}
	got = FilterTasks(ref.Tasks(), TaskFilter{Assignees: []string{"J. Smith"}})
	if len(got) != 2 {
		t.Fatalf("assignee filter = %d tasks, want 2", len(got))
	}
}

func TestMyActiveTasksNormalizesIdentity(t *testing.T) {
	ref := testRef(t)
	for _, id := range []string{"J. Smith", "J Smith", "j.smith"} {
		got := MyActiveTasks(ref.Tasks(), id)
		if len(got) != 1 || got[0].TaskID != "T2" {
			t.Fatalf("active tasks for %q = %+v", id, got)
		}
	}
	if got := MyActiveTasks(ref.Tasks(), "J. Smyth"); len(got) != 0 {
		t.Fatalf("J. Smyth should match nothing, got %+v", got)
	}
}

func TestTeamReportees(t *testing.T) {
	ref := testRef(t)
	got := TeamReportees(ref.Credentials(), "Meera Nair")
	if len(got) != 2 {
		t.Fatalf("reportees = %v", got)
	}
	if !IsReportee(ref.Credentials(), "meera.nair", "J. Smith") {
		t.Fatal("j.smith should report to meera.nair")
	}
	if IsReportee(ref.Credentials(), "j.smith", "meera.nair") {
		t.Fatal("meera.nair does not report to j.smith")
	}
}

func TestSummarize(t *testing.T) {
	ref := testRef(t)
	now := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	sum := Summarize(ref, now)
	if sum.TotalOrders != 3 || sum.SLABreached != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.ByRAG[domain.RAGRed] != 1 || sum.ByRAG[domain.RAGAmber] != 1 || sum.ByRAG[domain.RAGGreen] != 1 {
		t.Fatalf("by rag = %+v", sum.ByRAG)
	}
	// ORD-001 and ORD-003 are 10 days old, ORD-002 is 5.
	if sum.AvgAgeingDays != 25.0/3.0 {
		t.Fatalf("avg ageing = %v", sum.AvgAgeingDays)
	}
	if sum.TasksOnHold != 1 || sum.TasksEscalated != 1 {
		t.Fatalf("task counters = %+v", sum)
	}
}

func TestHoldStats(t *testing.T) {
	ref := testRef(t)
	stats := HoldStats(ref)
	if len(stats) != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].Code != "H01" || stats[0].Count != 1 || stats[0].Reason != "Awaiting permits" {
		t.Fatalf("stat = %+v", stats[0])
	}
}

func TestMilestoneTimeline(t *testing.T) {
	steps := MilestoneTimeline(domain.StageActivation)
	if len(steps) != len(Milestones) {
		t.Fatalf("steps = %d", len(steps))
	}
	if !steps[3].Current || !steps[3].Reached {
		t.Fatalf("activation step = %+v", steps[3])
	}
	if steps[4].Reached {
		t.Fatal("completed step should not be reached yet")
	}
	if !steps[0].Reached || steps[0].Current {
		t.Fatalf("first step = %+v", steps[0])
	}
}
