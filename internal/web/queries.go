package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lucasnoah/pipeagent/internal/analytics"
)

// parseSince reads ?since= as either a duration back from now ("24h") or an
// RFC3339 timestamp. Empty means no lower bound.
func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: want a duration or RFC3339 time", raw)
	}
	return t, nil
}

// statsQuery runs an analytics query for a stats endpoint.
func statsQuery[T any](s *Server, w http.ResponseWriter, r *http.Request, query func(analytics.DB, time.Time) ([]T, error)) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := query(s.db, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []T{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDecisionStats(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("by") == "issue" {
		statsQuery(s, w, r, analytics.QueryDecisionMatrix)
		return
	}
	statsQuery(s, w, r, analytics.QueryDecisionCounts)
}

func (s *Server) handlePhaseStats(w http.ResponseWriter, r *http.Request) {
	statsQuery(s, w, r, analytics.QueryPhaseStats)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	statsQuery(s, w, r, analytics.QueryRunOutcomes)
}
