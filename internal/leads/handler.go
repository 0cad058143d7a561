package leads

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// Handler handles HTTP requests for leads
type Handler struct {
	repo         Repository
	logger       *logging.Logger
	contextTurns int
}

// NewHandler creates a new leads handler
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		repo:         repo,
		logger:       logger,
		contextTurns: 200,
	}
}

// UpsertLead handles POST /admin/leads requests
func (h *Handler) UpsertLead(w http.ResponseWriter, r *http.Request) {
	var req UpsertLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	lead, created, err := h.repo.Upsert(r.Context(), &req)
	switch {
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidProfile):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrDuplicateProfile):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("failed to upsert lead", "error", err)
		http.Error(w, "failed to save lead", http.StatusInternalServerError)
		return
	}

	h.logger.Info("lead saved", "id", lead.ID, "name", lead.Name, "created", created)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, lead)
}

// ListLeadsResponse is the response for listing leads
type ListLeadsResponse struct {
	Leads  []*Lead `json:"leads"`
	Count  int     `json:"count"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

// ListLeads handles GET /admin/leads requests
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Limit:  50,
		Offset: 0,
		State:  State(r.URL.Query().Get("state")),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	leads, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list leads", "error", err)
		http.Error(w, "failed to list leads", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ListLeadsResponse{
		Leads:  leads,
		Count:  len(leads),
		Offset: filter.Offset,
		Limit:  filter.Limit,
	})
}

// LeadDetail is a lead together with its conversation.
type LeadDetail struct {
	*Lead
	Turns []Turn `json:"turns"`
}

// GetLead handles GET /admin/leads/{leadID}
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "leadID")
	lead, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, ErrLeadNotFound) {
		http.Error(w, "lead not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get lead", "error", err, "lead_id", id)
		http.Error(w, "failed to get lead", http.StatusInternalServerError)
		return
	}

	turns, err := h.repo.RecentTurns(r.Context(), id, h.contextTurns)
	if err != nil {
		h.logger.Error("failed to load turns", "error", err, "lead_id", id)
		http.Error(w, "failed to get lead", http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []Turn{}
	}
	writeJSON(w, http.StatusOK, LeadDetail{Lead: lead, Turns: turns})
}

// DeleteLead handles DELETE /admin/leads/{leadID}
func (h *Handler) DeleteLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "leadID")
	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			http.Error(w, "lead not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to delete lead", "error", err, "lead_id", id)
		http.Error(w, "failed to delete lead", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
