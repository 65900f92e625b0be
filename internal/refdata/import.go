package refdata

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"controltower/internal/domain"
	"controltower/internal/events"
	"controltower/internal/repo"
)

// Workbook file names expected inside the import directory.
const (
	ordersFile      = "orders.csv"
	tasksFile       = "task_executions.csv"
	dictionaryFile  = "task_dictionary.csv"
	holdReasonsFile = "hold_reasons.csv"
	credentialsFile = "credentials.csv"
)

// ImportSummary reports row counts per imported table.
type ImportSummary struct {
	Orders      int `json:"orders"`
	Tasks       int `json:"tasks"`
	Dictionary  int `json:"dictionary"`
	HoldReasons int `json:"hold_reasons"`
	Credentials int `json:"credentials"`
}

// ImportWorkbook replaces all reference tables from a directory of CSV
// exports of the governance workbook. The import is atomic: either every
// table is replaced or none is.
func ImportWorkbook(ctx context.Context, db *sql.DB, dir, actorID string, now func() time.Time) (ImportSummary, error) {
	var sum ImportSummary
	orders, err := readOrders(filepath.Join(dir, ordersFile))
	if err != nil {
		return sum, err
	}
	tasks, err := readTasks(filepath.Join(dir, tasksFile))
	if err != nil {
		return sum, err
	}
	dictionary, err := readDictionary(filepath.Join(dir, dictionaryFile))
	if err != nil {
		return sum, err
	}
	holdReasons, err := readHoldReasons(filepath.Join(dir, holdReasonsFile))
	if err != nil {
		return sum, err
	}
	credentials, err := readCredentials(filepath.Join(dir, credentialsFile))
	if err != nil {
		return sum, err
	}

	r := repo.Repo{DB: db}
	w := events.Writer{DB: db, Now: now}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return sum, err
	}
	defer tx.Rollback()
	if err := r.ReplaceOrders(ctx, tx, orders); err != nil {
		return sum, err
	}
	if err := r.ReplaceTaskExecutions(ctx, tx, tasks); err != nil {
		return sum, err
	}
	if err := r.ReplaceDictionary(ctx, tx, dictionary); err != nil {
		return sum, err
	}
	if err := r.ReplaceHoldReasons(ctx, tx, holdReasons); err != nil {
		return sum, err
	}
	if err := r.ReplaceCredentials(ctx, tx, credentials); err != nil {
		return sum, err
	}
	sum = ImportSummary{
		Orders:      len(orders),
		Tasks:       len(tasks),
		Dictionary:  len(dictionary),
		HoldReasons: len(holdReasons),
		Credentials: len(credentials),
	}
	if err := w.Append(ctx, tx, "data.imported", "", "workbook", dir, actorID, events.EventPayload{
		"orders": sum.Orders, "tasks": sum.Tasks, "credentials": sum.Credentials,
	}); err != nil {
		return sum, err
	}
	if err := tx.Commit(); err != nil {
		return sum, err
	}
	return sum, nil
}

// sheet is one parsed CSV file with header-indexed access.
type sheet struct {
	name string
	cols map[string]int
	rows [][]string
}

func readSheet(path string, required []string) (*sheet, error) {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &DataSourceError{Source: name, Reason: "file is missing"}
		}
		return nil, err
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, &DataSourceError{Source: name, Reason: err.Error()}
	}
	if len(records) == 0 {
		return nil, &DataSourceError{Source: name, Reason: "header row is missing"}
	}
	cols := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		cols[strings.TrimSpace(h)] = i
	}
	for _, want := range required {
		if _, ok := cols[want]; !ok {
			return nil, &DataSourceError{Source: name, Column: want, Reason: "is missing"}
		}
	}
	return &sheet{name: name, cols: cols, rows: records[1:]}, nil
}

func (s *sheet) get(row []string, col string) string {
	idx, ok := s.cols[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (s *sheet) getAny(row []string, cols ...string) string {
	for _, c := range cols {
		if _, ok := s.cols[c]; ok {
			return s.get(row, c)
		}
	}
	return ""
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}

func parseDate(name, field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, &DataSourceError{Source: name, Column: field, Reason: "has an empty date"}
	}
	t, err := repo.ParseTime(v)
	if err != nil {
		return time.Time{}, &DataSourceError{Source: name, Column: field, Reason: err.Error()}
	}
	return t, nil
}

func readOrders(path string) ([]domain.Order, error) {
	s, err := readSheet(path, []string{"Order_ID", "Client_Name", "Order_Type", "Lifecycle_Stage", "Overall_RAG", "SLA_Breach_Flag", "Order_Status", "Order_Start_Date"})
	if err != nil {
		return nil, err
	}
	var res []domain.Order
	for _, row := range s.rows {
		start, err := parseDate(s.name, "Order_Start_Date", s.get(row, "Order_Start_Date"))
		if err != nil {
			return nil, err
		}
		res = append(res, domain.Order{
			ID:          s.get(row, "Order_ID"),
			ClientName:  s.get(row, "Client_Name"),
			OrderType:   s.get(row, "Order_Type"),
			Lifecycle:   domain.Stage(s.get(row, "Lifecycle_Stage")),
			OverallRAG:  domain.RAG(s.get(row, "Overall_RAG")),
			SLABreached: parseFlag(s.get(row, "SLA_Breach_Flag")),
			OrderStatus: s.get(row, "Order_Status"),
			StartDate:   start,
		})
	}
	return res, nil
}

func readTasks(path string) ([]domain.TaskExecution, error) {
	s, err := readSheet(path, []string{"Order_ID", "Task_ID", "Task_Name", "Task_Status", "Task_Start_Date"})
	if err != nil {
		return nil, err
	}
	var res []domain.TaskExecution
	for _, row := range s.rows {
		assigned := s.getAny(row, "Assigned_To", "Assigned_To_POC")
		if assigned == "" {
			return nil, &DataSourceError{Source: s.name, Column: "Assigned_To", Reason: "is missing"}
		}
		start, err := parseDate(s.name, "Task_Start_Date", s.get(row, "Task_Start_Date"))
		if err != nil {
			return nil, err
		}
		t := domain.TaskExecution{
			OrderID:             s.get(row, "Order_ID"),
			TaskID:              s.get(row, "Task_ID"),
			TaskName:            s.get(row, "Task_Name"),
			Status:              domain.TaskStatus(s.get(row, "Task_Status")),
			AssignedTo:          assigned,
			StartDate:           start,
			HoldReasonCode:      s.get(row, "Hold_Reason_Code"),
			EscalationTriggered: parseFlag(s.get(row, "Escalation_Triggered")),
		}
		if raw := s.get(row, "Task_End_Date"); raw != "" {
			end, err := parseDate(s.name, "Task_End_Date", raw)
			if err != nil {
				return nil, err
			}
			t.EndDate = &end
		}
		if raw := s.get(row, "Actual_Hours"); raw != "" {
			hours, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, &DataSourceError{Source: s.name, Column: "Actual_Hours", Reason: fmt.Sprintf("bad number %q", raw)}
			}
			t.ActualHours = hours
		}
		res = append(res, t)
	}
	return res, nil
}

func readDictionary(path string) ([]domain.DictionaryEntry, error) {
	s, err := readSheet(path, []string{"Lifecycle_Stage", "Task_ID", "Task_Name"})
	if err != nil {
		return nil, err
	}
	var res []domain.DictionaryEntry
	for _, row := range s.rows {
		res = append(res, domain.DictionaryEntry{
			Lifecycle: domain.Stage(s.get(row, "Lifecycle_Stage")),
			TaskID:    s.get(row, "Task_ID"),
			TaskName:  s.get(row, "Task_Name"),
		})
	}
	return res, nil
}

func readHoldReasons(path string) ([]domain.HoldReason, error) {
	s, err := readSheet(path, []string{"Hold_Code", "Hold_Reason", "Responsibility", "Category", "Delayed_TAT"})
	if err != nil {
		return nil, err
	}
	var res []domain.HoldReason
	for _, row := range s.rows {
		res = append(res, domain.HoldReason{
			Code:           s.get(row, "Hold_Code"),
			Reason:         s.get(row, "Hold_Reason"),
			Responsibility: s.get(row, "Responsibility"),
			Category:       s.get(row, "Category"),
			DelayedTAT:     s.get(row, "Delayed_TAT"),
		})
	}
	return res, nil
}

func readCredentials(path string) ([]domain.Credential, error) {
	s, err := readSheet(path, []string{"Login_ID", "Password", "Active_Flag", "POC_Name", "Type", "Reports_To"})
	if err != nil {
		return nil, err
	}
	var res []domain.Credential
	for _, row := range s.rows {
		res = append(res, domain.Credential{
			LoginID:   s.get(row, "Login_ID"),
			Password:  s.get(row, "Password"),
			Active:    parseFlag(s.get(row, "Active_Flag")),
			POCName:   s.get(row, "POC_Name"),
			Type:      domain.Persona(s.get(row, "Type")),
			ReportsTo: s.get(row, "Reports_To"),
			OrderID:   s.get(row, "Order_ID"),
		})
	}
	return res, nil
}
