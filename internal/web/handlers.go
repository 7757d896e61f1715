package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/pipeagent/internal/pipeline"
	"github.com/lucasnoah/pipeagent/internal/report"
)

// ---- view models ----

type RunRow struct {
	RunID      string             `json:"run_id"`
	ProjectID  string             `json:"project_id"`
	AppName    string             `json:"app_name"`
	Status     pipeline.RunStatus `json:"status"`
	Success    bool               `json:"success"`
	Phases     int                `json:"phases_run"`
	Decisions  int                `json:"decisions"`
	CreatedAt  string             `json:"created_at"`
	UpdatedAgo string             `json:"updated_ago"`
}

type RunDetail struct {
	*pipeline.RunState
	UpdatedAgo string `json:"updated_ago"`
}

// ---- helpers ----

// currentProject reads the ?project= query parameter from a request.
func currentProject(r *http.Request) string {
	return r.URL.Query().Get("project")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func relTime(ts string) string {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	var t time.Time
	for _, f := range formats {
		if parsed, err := time.Parse(f, ts); err == nil {
			t = parsed
			break
		}
	}
	if t.IsZero() {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// lookupRun loads the run named in the path, writing a 404 when it is missing.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*pipeline.RunState, bool) {
	id := r.PathValue("id")
	if !pipeline.ValidRunID(id) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	rs, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return rs, true
}

// ---- handlers ----

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List(currentProject(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := make([]RunRow, 0, len(runs))
	for _, rs := range runs {
		rows = append(rows, RunRow{
			RunID:      rs.RunID,
			ProjectID:  rs.ProjectID,
			AppName:    rs.AppName,
			Status:     rs.Status,
			Success:    rs.Success,
			Phases:     len(rs.History),
			Decisions:  len(rs.Decisions),
			CreatedAt:  rs.CreatedAt,
			UpdatedAgo: relTime(rs.UpdatedAt),
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, RunDetail{RunState: rs, UpdatedAgo: relTime(rs.UpdatedAt)})
}

// handleRunReport serves the execution report as JSON, or as the plain-text
// rendering with ?format=text.
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	rep := report.Build(rs.ProjectID, rs.History, rs.Decisions)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := rep.Write(w); err != nil {
			s.logger.Warn("write report failed", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRunEscalations(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	escs, err := s.store.Escalations(rs.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if escs == nil {
		escs = []pipeline.Escalation{}
	}
	writeJSON(w, http.StatusOK, escs)
}
