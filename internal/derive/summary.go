package derive

import (
	"sort"
	"time"

	"controltower/internal/domain"
	"controltower/internal/refdata"
)

// PortfolioSummary is the leadership rollup over every order.
type PortfolioSummary struct {
	TotalOrders    int                  `json:"total_orders"`
	ByStage        map[domain.Stage]int `json:"by_stage"`
	ByRAG          map[domain.RAG]int   `json:"by_rag"`
	SLABreached    int                  `json:"sla_breached"`
	AvgAgeingDays  float64              `json:"avg_ageing_days"`
	TasksOnHold    int                  `json:"tasks_on_hold"`
	TasksEscalated int                  `json:"tasks_escalated"`
}

// Summarize computes the portfolio rollup. RAG counts use the derived
// rating, so a breached Green order counts as Red.
func Summarize(ref *refdata.ReferenceData, now time.Time) PortfolioSummary {
	orders := ref.Orders()
	sum := PortfolioSummary{
		TotalOrders: len(orders),
		ByStage:     make(map[domain.Stage]int),
		ByRAG:       make(map[domain.RAG]int),
	}
	var totalDays int
	for _, o := range orders {
		sum.ByStage[o.Lifecycle]++
		sum.ByRAG[DerivedRAG(o)]++
		if o.SLABreached {
			sum.SLABreached++
		}
		totalDays += AgeingDays(o, now)
	}
	if len(orders) > 0 {
		sum.AvgAgeingDays = float64(totalDays) / float64(len(orders))
	}
	for _, t := range ref.Tasks() {
		if t.Status == domain.TaskOnHold {
			sum.TasksOnHold++
		}
		if t.EscalationTriggered {
			sum.TasksEscalated++
		}
	}
	return sum
}

// HoldStat counts how many task executions sit on one hold code.
type HoldStat struct {
	Code           string `json:"code"`
	Reason         string `json:"reason"`
	Responsibility string `json:"responsibility"`
	Count          int    `json:"count"`
}

// HoldStats aggregates holds across all task executions, most frequent
// first. Codes without a dictionary row still appear, with an empty reason.
func HoldStats(ref *refdata.ReferenceData) []HoldStat {
	counts := make(map[string]int)
	for _, t := range ref.Tasks() {
		if t.HoldReasonCode != "" {
			counts[t.HoldReasonCode]++
		}
	}
	out := make([]HoldStat, 0, len(counts))
	for code, n := range counts {
		stat := HoldStat{Code: code, Count: n}
		if h, ok := ref.HoldReason(code); ok {
			stat.Reason = h.Reason
			stat.Responsibility = h.Responsibility
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// MilestoneStep is one entry of the customer-facing journey for an order.
type MilestoneStep struct {
	Name    string `json:"name"`
	Reached bool   `json:"reached"`
	Current bool   `json:"current"`
}

// MilestoneTimeline renders the fixed milestone journey with the order's
// position marked from its lifecycle stage.
func MilestoneTimeline(stage domain.Stage) []MilestoneStep {
	idx := MilestoneIndex(stage)
	out := make([]MilestoneStep, len(Milestones))
	for i, name := range Milestones {
		out[i] = MilestoneStep{Name: name, Reached: i <= idx, Current: i == idx}
	}
	return out
}
