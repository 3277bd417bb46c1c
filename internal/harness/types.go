package harness

import (
	"github.com/roach88/ordermon/internal/engine"
	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/model"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success: every step ran and every
	// assertion held.
	Pass bool `json:"pass"`

	// Errors contains step and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the deterministic summary compared to the golden file.
	Snapshot Snapshot `json:"snapshot"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		Snapshot: Snapshot{
			Scenario: name,
			Cycles:   []CycleSummary{},
			Statuses: make(map[model.Status]int),
			Events:   make(map[events.Kind]int),
		},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Snapshot is everything a scenario observably did. It holds no IDs or
// timestamps that vary between runs.
type Snapshot struct {
	Scenario    string               `json:"scenario"`
	Cycles      []CycleSummary       `json:"cycles"`
	FlagChanges []FlagChangeSummary  `json:"flag_changes,omitempty"`
	Statuses    map[model.Status]int `json:"statuses"`
	Events      map[events.Kind]int  `json:"events"`
	Orders      []OrderSummary       `json:"orders,omitempty"`
}

// CycleSummary is the stable part of an engine.CycleReport.
type CycleSummary struct {
	Seq          int64 `json:"seq"`
	BatchSize    int   `json:"batch_size"`
	Fetched      int   `json:"fetched"`
	Dispatched   int   `json:"dispatched"`
	Transitioned int   `json:"transitioned,omitempty"`
	Failed       int   `json:"failed,omitempty"`
	Exhausted    int   `json:"exhausted,omitempty"`
	Conflicts    int   `json:"conflicts,omitempty"`
	Retried      int   `json:"retried,omitempty"`
	Skipped      int   `json:"skipped,omitempty"`
	Held         int   `json:"held,omitempty"`
	Degraded     bool  `json:"degraded,omitempty"`
	FetchFailed  bool  `json:"fetch_failed,omitempty"`
}

func summarizeCycle(rep engine.CycleReport, fetchFailed bool) CycleSummary {
	return CycleSummary{
		Seq:          rep.Seq,
		BatchSize:    rep.BatchSize,
		Fetched:      rep.Fetched,
		Dispatched:   rep.Dispatched,
		Transitioned: rep.Transitioned,
		Failed:       rep.Failed,
		Exhausted:    rep.Exhausted,
		Conflicts:    rep.Conflicts,
		Retried:      rep.Retried,
		Skipped:      rep.Skipped,
		Held:         rep.Held,
		Degraded:     rep.Degraded,
		FetchFailed:  fetchFailed,
	}
}

// FlagChangeSummary is a recorded flag flip.
type FlagChangeSummary struct {
	Key string `json:"key"`
	Old bool   `json:"old"`
	New bool   `json:"new"`
}

// OrderSummary is an order's final state.
type OrderSummary struct {
	ID          int64        `json:"id"`
	Status      model.Status `json:"status"`
	Filled      string       `json:"filled"`
	Transitions int          `json:"transitions"`
}
