package cost

import (
	"sort"
	"sync"
	"time"
)

// Record captures one billable model call. Every call is recorded, including
// retries and calls whose subtask later fails.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentType string    `json:"agent_type,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Operation string    `json:"operation,omitempty"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Cost      Cost      `json:"cost"`
}

// DailyCost aggregates spend for one calendar day (UTC).
type DailyCost struct {
	Date      string `json:"date"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
	Cost      Cost   `json:"cost"`
}

// Summary is the aggregated spend view served by the monitoring API.
type Summary struct {
	TotalCost   Cost            `json:"total_cost"`
	TotalTokens int64           `json:"total_tokens"`
	CallCount   int             `json:"call_count"`
	ByModel     map[string]Cost `json:"by_model"`
	ByProvider  map[string]Cost `json:"by_provider"`
	ByDay       []DailyCost     `json:"by_day"`
	ByTask      map[string]Cost `json:"by_task,omitempty"`
	Since       *time.Time      `json:"since,omitempty"`
}

// Tracker accumulates billable call records in memory. All methods are safe
// for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records []Record
	total   Cost
	byTask  map[string]Cost
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byTask: make(map[string]Cost),
	}
}

// Add stores one call record. Zero-cost calls (local models) are recorded too
// so token totals stay accurate.
func (t *Tracker) Add(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	t.total += rec.Cost
	if rec.TaskID != "" {
		t.byTask[rec.TaskID] += rec.Cost
	}
}

// Total returns the cumulative spend across all recorded calls.
func (t *Tracker) Total() Cost {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// TaskTotal returns the cumulative spend attributed to one task.
func (t *Tracker) TaskTotal(taskID string) Cost {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byTask[taskID]
}

// Count returns the number of recorded calls.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Prune discards records older than `before` and returns how many were
// dropped. Totals and per-task attribution are rebuilt from the retained
// records, so after a prune they cover the retention window, not all time.
func (t *Tracker) Prune(before time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.records[:0]
	for _, rec := range t.records {
		if rec.Timestamp.Before(before) {
			continue
		}
		kept = append(kept, rec)
	}
	dropped := len(t.records) - len(kept)
	if dropped == 0 {
		return 0
	}

	t.records = kept
	t.total = Zero
	t.byTask = make(map[string]Cost, len(kept))
	for _, rec := range kept {
		t.total += rec.Cost
		if rec.TaskID != "" {
			t.byTask[rec.TaskID] += rec.Cost
		}
	}
	return dropped
}

// Summarize aggregates records from the last `days` days (0 = everything).
func (t *Tracker) Summarize(days int) Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var since time.Time
	if days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	sum := Summary{
		ByModel:    make(map[string]Cost),
		ByProvider: make(map[string]Cost),
		ByTask:     make(map[string]Cost),
	}
	if !since.IsZero() {
		s := since
		sum.Since = &s
	}

	daily := make(map[string]*DailyCost)
	for _, rec := range t.records {
		if !since.IsZero() && rec.Timestamp.Before(since) {
			continue
		}
		sum.TotalCost += rec.Cost
		sum.TotalTokens += rec.TokensIn + rec.TokensOut
		sum.CallCount++
		sum.ByModel[rec.Model] += rec.Cost
		sum.ByProvider[rec.Provider] += rec.Cost
		if rec.TaskID != "" {
			sum.ByTask[rec.TaskID] += rec.Cost
		}
		day := rec.Timestamp.UTC().Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &DailyCost{Date: day}
			daily[day] = d
		}
		d.TokensIn += rec.TokensIn
		d.TokensOut += rec.TokensOut
		d.Cost += rec.Cost
	}

	sum.ByDay = make([]DailyCost, 0, len(daily))
	for _, d := range daily {
		sum.ByDay = append(sum.ByDay, *d)
	}
	// ISO dates sort chronologically.
	sort.Slice(sum.ByDay, func(i, j int) bool { return sum.ByDay[i].Date < sum.ByDay[j].Date })
	return sum
}
