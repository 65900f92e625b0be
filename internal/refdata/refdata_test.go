package refdata

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"controltower/internal/db"
	"controltower/internal/domain"
	"controltower/internal/migrate"
	"controltower/internal/repo"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedReference(t *testing.T, conn *sql.DB) {
	t.Helper()
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{ID: "ORD001", ClientName: "Acme Fiber", OrderType: "New Install", Lifecycle: domain.StageBuildToOrder, OverallRAG: domain.RAGAmber, OrderStatus: "In Progress", StartDate: start},
		{ID: "ORD002", ClientName: "Globex", OrderType: "Upgrade", Lifecycle: domain.StageActivation, OverallRAG: domain.RAGGreen, SLABreached: true, OrderStatus: "In Progress", StartDate: start},
	}
	tasks := []domain.TaskExecution{
		{OrderID: "ORD001", TaskID: "T-B2O-01", TaskName: "Design Review", Status: domain.TaskCompleted, AssignedTo: "ravi.kumar", StartDate: start},
		{OrderID: "ORD001", TaskID: "T-B2O-02", TaskName: "Build", Status: domain.TaskInProgress, AssignedTo: "ravi.kumar", StartDate: start, HoldReasonCode: "H01"},
	}
	dictionary := []domain.DictionaryEntry{
		{Lifecycle: domain.StageBuildToOrder, TaskID: "T-B2O-01", TaskName: "Design Review"},
		{Lifecycle: domain.StageBuildToOrder, TaskID: "T-B2O-02", TaskName: "Build"},
		{Lifecycle: domain.StageBuildToOrder, TaskID: "T-B2O-03", TaskName: "Build QA"},
	}
	holds := []domain.HoldReason{
		{Code: "H01", Reason: "Awaiting customer confirmation", Responsibility: "Customer", Category: "External", DelayedTAT: "48h"},
	}
	creds := []domain.Credential{
		{LoginID: "ravi.kumar", Password: "pw", Active: true, POCName: "Ravi Kumar", Type: domain.PersonaOperations, ReportsTo: "meera.nair"},
	}
	if err := r.ReplaceOrders(ctx, tx, orders); err != nil {
		t.Fatalf("seed orders: %v", err)
	}
	if err := r.ReplaceTaskExecutions(ctx, tx, tasks); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}
	if err := r.ReplaceDictionary(ctx, tx, dictionary); err != nil {
		t.Fatalf("seed dictionary: %v", err)
	}
	if err := r.ReplaceHoldReasons(ctx, tx, holds); err != nil {
		t.Fatalf("seed holds: %v", err)
	}
	if err := r.ReplaceCredentials(ctx, tx, creds); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestLoadBuildsLookups(t *testing.T) {
	conn := newTestDB(t)
	seedReference(t, conn)
	ref, err := Load(context.Background(), conn)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(ref.Orders()); got != 2 {
		t.Fatalf("orders = %d, want 2", got)
	}
	tasks := ref.TasksForOrder("ORD001")
	if len(tasks) != 2 {
		t.Fatalf("tasks for ORD001 = %d, want 2", len(tasks))
	}
	// Lifecycle comes from the dictionary join, not the execution row.
	if tasks[0].Lifecycle != domain.StageBuildToOrder {
		t.Fatalf("task lifecycle = %q", tasks[0].Lifecycle)
	}
	seq := ref.StageSequence(domain.StageBuildToOrder)
	if len(seq) != 3 || seq[2].TaskID != "T-B2O-03" {
		t.Fatalf("stage sequence = %+v", seq)
	}
	if _, ok := ref.HoldReason("H01"); !ok {
		t.Fatal("hold H01 not found")
	}
}

func TestLoadMissingTable(t *testing.T) {
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	// No migrations: every reference table is absent.
	_, err = Load(context.Background(), conn)
	var dse *DataSourceError
	if !errors.As(err, &dse) {
		t.Fatalf("err = %v, want *DataSourceError", err)
	}
	if dse.Source != "orders" {
		t.Fatalf("source = %q, want orders", dse.Source)
	}
}

func TestLoadMissingColumn(t *testing.T) {
	conn := newTestDB(t)
	if _, err := conn.Exec(`ALTER TABLE credentials DROP COLUMN reports_to`); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	_, err := Load(context.Background(), conn)
	var dse *DataSourceError
	if !errors.As(err, &dse) {
		t.Fatalf("err = %v, want *DataSourceError", err)
	}
	if dse.Source != "credentials" || dse.Column != "reports_to" {
		t.Fatalf("got %+v", dse)
	}
}

func TestLoadRejectsOrphanTask(t *testing.T) {
	conn := newTestDB(t)
	seedReference(t, conn)
	if _, err := conn.Exec(`INSERT INTO task_executions(order_id,task_id,task_name,task_status,assigned_to,task_start_date,actual_hours,escalation_triggered)
VALUES ('ORD999','T-X','Ghost','In Progress','nobody','2026-03-01T00:00:00Z',0,0)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := Load(context.Background(), conn)
	var dse *DataSourceError
	if !errors.As(err, &dse) {
		t.Fatalf("err = %v, want *DataSourceError", err)
	}
}

func TestRejectsTaskIDReusedAcrossStages(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{ID: "ORD001", ClientName: "Acme", OrderType: "New Install", Lifecycle: domain.StageBuildToOrder, OverallRAG: domain.RAGGreen, OrderStatus: "In Progress", StartDate: start},
	}
	dictionary := []domain.DictionaryEntry{
		{Lifecycle: domain.StageBuildToOrder, TaskID: "T-01", TaskName: "Build"},
		{Lifecycle: domain.StageActivation, TaskID: "T-01", TaskName: "Activate"},
	}
	_, err := FromRows(orders, nil, dictionary, nil, nil)
	var dse *DataSourceError
	if !errors.As(err, &dse) {
		t.Fatalf("err = %v, want *DataSourceError", err)
	}
	if dse.Source != "task_dictionary" {
		t.Fatalf("source = %q", dse.Source)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	conn := newTestDB(t)
	seedReference(t, conn)
	ref, err := Load(context.Background(), conn)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	orders := ref.Orders()
	orders[0].ClientName = "mutated"
	if again := ref.Orders(); again[0].ClientName == "mutated" {
		t.Fatal("accessor exposed internal slice")
	}
}

func TestCredentialLookupNormalizes(t *testing.T) {
	conn := newTestDB(t)
	seedReference(t, conn)
	ref, err := Load(context.Background(), conn)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, id := range []string{"ravi.kumar", "Ravi Kumar", "RAVI.KUMAR", " ravikumar "} {
		if _, ok := ref.Credential(id); !ok {
			t.Fatalf("credential lookup failed for %q", id)
		}
	}
}

func writeCSV(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func writeWorkbook(t *testing.T, dir string) {
	t.Helper()
	writeCSV(t, dir, ordersFile, `Order_ID,Client_Name,Order_Type,Lifecycle_Stage,Overall_RAG,SLA_Breach_Flag,Order_Status,Order_Start_Date
ORD001,Acme Fiber,New Install,Build to Order,Amber,No,In Progress,2026-03-01
`)
	writeCSV(t, dir, tasksFile, `Order_ID,Task_ID,Task_Name,Task_Status,Assigned_To_POC,Task_Start_Date,Task_End_Date,Actual_Hours,Hold_Reason_Code,Escalation_Triggered
ORD001,T-B2O-01,Design Review,Completed,ravi.kumar,2026-03-01,2026-03-02,6.5,,No
ORD001,T-B2O-02,Build,On Hold,ravi.kumar,2026-03-02,,0,H01,Yes
`)
	writeCSV(t, dir, dictionaryFile, `Lifecycle_Stage,Task_ID,Task_Name
Build to Order,T-B2O-01,Design Review
Build to Order,T-B2O-02,Build
`)
	writeCSV(t, dir, holdReasonsFile, `Hold_Code,Hold_Reason,Responsibility,Category,Delayed_TAT
H01,Awaiting customer confirmation,Customer,External,48h
`)
	writeCSV(t, dir, credentialsFile, `Login_ID,Password,Active_Flag,POC_Name,Type,Reports_To,Order_ID
ravi.kumar,pw,Yes,Ravi Kumar,Operations,meera.nair,
cust1,pw,Yes,Acme Contact,Customer,,ORD001
`)
}

func TestImportWorkbook(t *testing.T) {
	conn := newTestDB(t)
	dir := t.TempDir()
	writeWorkbook(t, dir)
	now := func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	sum, err := ImportWorkbook(context.Background(), conn, dir, "admin", now)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sum.Orders != 1 || sum.Tasks != 2 || sum.Credentials != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	ref, err := Load(context.Background(), conn)
	if err != nil {
		t.Fatalf("load after import: %v", err)
	}
	o, ok := ref.Order("ORD001")
	if !ok || o.Lifecycle != domain.StageBuildToOrder || o.SLABreached {
		t.Fatalf("order = %+v", o)
	}
	tasks := ref.TasksForOrder("ORD001")
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[0].EndDate == nil || tasks[0].ActualHours != 6.5 {
		t.Fatalf("first task = %+v", tasks[0])
	}
	if tasks[1].EndDate != nil || !tasks[1].EscalationTriggered {
		t.Fatalf("second task = %+v", tasks[1])
	}
	c, ok := ref.Credential("cust1")
	if !ok || c.OrderID != "ORD001" {
		t.Fatalf("credential = %+v", c)
	}
	var evt string
	if err := conn.QueryRow(`SELECT type FROM events ORDER BY id DESC LIMIT 1`).Scan(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt != "data.imported" {
		t.Fatalf("event type = %q", evt)
	}
}

func TestImportMissingHeader(t *testing.T) {
	conn := newTestDB(t)
	dir := t.TempDir()
	writeWorkbook(t, dir)
	writeCSV(t, dir, ordersFile, `Order_ID,Client_Name
ORD001,Acme Fiber
`)
	_, err := ImportWorkbook(context.Background(), conn, dir, "admin", time.Now)
	var dse *DataSourceError
	if !errors.As(err, &dse) {
		t.Fatalf("err = %v, want *DataSourceError", err)
	}
	if dse.Column != "Order_Type" {
		t.Fatalf("column = %q", dse.Column)
	}
}

func TestImportMissingFile(t *testing.T) {
	conn := newTestDB(t)
	dir := t.TempDir()
	writeWorkbook(t, dir)
	os.Remove(filepath.Join(dir, credentialsFile))
	_, err := ImportWorkbook(context.Background(), conn, dir, "admin", time.Now)
	var dse *DataSourceError
	if !errors.As(err, &dse) {
		t.Fatalf("err = %v, want *DataSourceError", err)
	}
	if dse.Source != credentialsFile {
		t.Fatalf("source = %q", dse.Source)
	}
}
