package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/outreach-orchestrator/internal/jobruns"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/outreach-orchestrator/internal/outreach"
	"github.com/wolfman30/outreach-orchestrator/internal/scheduler"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// OutreachActions are the operator-triggered outreach operations.
type OutreachActions interface {
	Login(ctx context.Context) outreach.ItemResult
	SendManualFollowUp(ctx context.Context, leadID string) (outreach.ItemResult, error)
}

// JobControl starts jobs and reports their state.
type JobControl interface {
	TriggerNow(name string) (bool, error)
	Status() []scheduler.JobStatus
}

// RunLister reads the job ledger.
type RunLister interface {
	Recent(ctx context.Context, job string, limit int) ([]jobruns.Run, error)
}

// AdminOutreachHandler serves the operator outreach endpoints.
type AdminOutreachHandler struct {
	actions  OutreachActions
	jobs     JobControl
	runs     RunLister
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewAdminOutreachHandler(actions OutreachActions, jobs JobControl, runs RunLister, gatherer prometheus.Gatherer, logger *logging.Logger) *AdminOutreachHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminOutreachHandler{actions: actions, jobs: jobs, runs: runs, gatherer: gatherer, logger: logger}
}

// Login signs the channel session in.
func (h *AdminOutreachHandler) Login(w http.ResponseWriter, r *http.Request) {
	result := h.actions.Login(r.Context())
	status := http.StatusOK
	switch result.Outcome {
	case outreach.OutcomeSkipped:
		status = http.StatusPreconditionFailed
	case outreach.OutcomeFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// SendInitial queues the initial-message job for every new lead.
func (h *AdminOutreachHandler) SendInitial(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, outreach.JobInitialSend)
}

// TriggerJob starts any registered job now.
func (h *AdminOutreachHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, chi.URLParam(r, "job"))
}

func (h *AdminOutreachHandler) trigger(w http.ResponseWriter, job string) {
	started, err := h.jobs.TriggerNow(job)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		jsonError(w, "unknown job", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to trigger job", "job", job, "error", err)
		jsonError(w, "failed to trigger job", http.StatusInternalServerError)
		return
	}
	if !started {
		writeJSON(w, http.StatusConflict, map[string]any{"job": job, "started": false, "reason": "already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job, "started": true})
}

// FollowUp sends a follow-up to one lead now.
func (h *AdminOutreachHandler) FollowUp(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	result, err := h.actions.SendManualFollowUp(r.Context(), leadID)
	switch {
	case errors.Is(err, leads.ErrLeadNotFound):
		jsonError(w, "lead not found", http.StatusNotFound)
		return
	case errors.Is(err, outreach.ErrNotContacted):
		jsonError(w, "lead has not been contacted yet", http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("manual follow-up failed", "lead_id", leadID, "error", err)
		jsonError(w, "failed to send follow-up", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	switch result.Outcome {
	case outreach.OutcomeSkipped:
		status = http.StatusConflict
	case outreach.OutcomeFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// Jobs lists job state and counters.
func (h *AdminOutreachHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	stats, err := metrics.SnapshotJobs(h.gatherer)
	if err != nil {
		h.logger.Warn("failed to gather job metrics", "error", err)
		stats = []metrics.JobStat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":    h.jobs.Status(),
		"metrics": stats,
	})
}

// Runs lists recent ledger rows.
func (h *AdminOutreachHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.Recent(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		h.logger.Error("failed to list job runs", "error", err)
		jsonError(w, "failed to list job runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
