package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// DecisionCount holds how often a decision was made.
type DecisionCount struct {
	Decision string  `json:"decision"`
	Count    int     `json:"count"`
	Pct      float64 `json:"pct"`
}

// QueryDecisionCounts returns decision totals, most frequent first.
// A zero since includes every decision.
func QueryDecisionCounts(database DB, since time.Time) ([]DecisionCount, error) {
	query := `SELECT decision, COUNT(*) FROM decisions`
	args := []interface{}{}
	if !since.IsZero() {
		query += ` WHERE decided_at >= $1`
		args = append(args, since)
	}
	query += ` GROUP BY decision`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decision counts: %w", err)
	}
	defer rows.Close()

	var results []DecisionCount
	total := 0
	for rows.Next() {
		var dc DecisionCount
		if err := rows.Scan(&dc.Decision, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan decision count: %w", err)
		}
		total += dc.Count
		results = append(results, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Pct = pct(results[i].Count, total)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count == results[j].Count {
			return results[i].Decision < results[j].Decision
		}
		return results[i].Count > results[j].Count
	})
	return results, nil
}

// DecisionCell is one cell of the issue classification to decision matrix.
type DecisionCell struct {
	IssueType string `json:"issue_type"`
	Severity  string `json:"severity"`
	Decision  string `json:"decision"`
	Count     int    `json:"count"`
}

// QueryDecisionMatrix returns how issues of each type and severity were decided.
func QueryDecisionMatrix(database DB, since time.Time) ([]DecisionCell, error) {
	query := `SELECT issue_type, severity, decision, COUNT(*) FROM decisions`
	args := []interface{}{}
	if !since.IsZero() {
		query += ` WHERE decided_at >= $1`
		args = append(args, since)
	}
	query += ` GROUP BY issue_type, severity, decision ORDER BY issue_type, severity, decision`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decision matrix: %w", err)
	}
	defer rows.Close()

	var results []DecisionCell
	for rows.Next() {
		var c DecisionCell
		if err := rows.Scan(&c.IssueType, &c.Severity, &c.Decision, &c.Count); err != nil {
			return nil, fmt.Errorf("scan decision cell: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// PhaseStats holds success rate and duration stats for a phase.
type PhaseStats struct {
	Phase      string  `json:"phase"`
	Count      int     `json:"count"`
	SuccessPct float64 `json:"success_pct"`
	Avg        float64 `json:"avg_seconds"`
	P50        float64 `json:"p50_seconds"`
	P95        float64 `json:"p95_seconds"`
}

// QueryPhaseStats returns per-phase success rates and execution time percentiles.
func QueryPhaseStats(database DB, since time.Time) ([]PhaseStats, error) {
	query := `SELECT phase, success, execution_ms FROM phase_results`
	args := []interface{}{}
	if !since.IsZero() {
		query += ` WHERE recorded_at >= $1`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phase stats: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	successes := make(map[string]int)
	for rows.Next() {
		var phase string
		var success bool
		var ms int64
		if err := rows.Scan(&phase, &success, &ms); err != nil {
			return nil, fmt.Errorf("scan phase result: %w", err)
		}
		durations[phase] = append(durations[phase], float64(ms)/1000)
		if success {
			successes[phase]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []PhaseStats
	for phase, ds := range durations {
		sort.Float64s(ds)
		results = append(results, PhaseStats{
			Phase:      phase,
			Count:      len(ds),
			SuccessPct: pct(successes[phase], len(ds)),
			Avg:        avg(ds),
			P50:        percentile(ds, 50),
			P95:        percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Phase < results[j].Phase
	})
	return results, nil
}

// RunOutcome holds the number of runs that ended in a status.
type RunOutcome struct {
	Status string  `json:"status"`
	Count  int     `json:"count"`
	Pct    float64 `json:"pct"`
}

// QueryRunOutcomes returns run totals per final status.
func QueryRunOutcomes(database DB, since time.Time) ([]RunOutcome, error) {
	query := `SELECT status, COUNT(*) FROM runs`
	args := []interface{}{}
	if !since.IsZero() {
		query += ` WHERE started_at >= $1`
		args = append(args, since)
	}
	query += ` GROUP BY status ORDER BY status`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run outcomes: %w", err)
	}
	defer rows.Close()

	var results []RunOutcome
	total := 0
	for rows.Next() {
		var o RunOutcome
		if err := rows.Scan(&o.Status, &o.Count); err != nil {
			return nil, fmt.Errorf("scan run outcome: %w", err)
		}
		total += o.Count
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Pct = pct(results[i].Count, total)
	}
	return results, nil
}

// EscalationCount holds escalation totals per phase and issue type.
type EscalationCount struct {
	Phase     string `json:"phase"`
	IssueType string `json:"issue_type"`
	Count     int    `json:"count"`
}

// QueryEscalations returns escalation totals, most frequent first.
func QueryEscalations(database DB, since time.Time) ([]EscalationCount, error) {
	query := `SELECT phase, issue_type, COUNT(*) FROM escalations`
	args := []interface{}{}
	if !since.IsZero() {
		query += ` WHERE escalated_at >= $1`
		args = append(args, since)
	}
	query += ` GROUP BY phase, issue_type ORDER BY COUNT(*) DESC, phase, issue_type`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	var results []EscalationCount
	for rows.Next() {
		var e EscalationCount
		if err := rows.Scan(&e.Phase, &e.IssueType, &e.Count); err != nil {
			return nil, fmt.Errorf("scan escalation count: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
