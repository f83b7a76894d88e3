package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/monitorhub/monitorhub/internal/database"
	"github.com/monitorhub/monitorhub/internal/models"
	"github.com/monitorhub/monitorhub/internal/ratelimit"
	"github.com/monitorhub/monitorhub/internal/request"
	"github.com/monitorhub/monitorhub/internal/services/extraction"
	"github.com/monitorhub/monitorhub/internal/validation"
	"github.com/monitorhub/monitorhub/internal/workers"
)

const (
	// MaxQueryLength is the maximum length for a monitor's condition text
	MaxQueryLength = 2000
	// MinFrequencySeconds is the shortest allowed re-evaluation interval
	MinFrequencySeconds = 60
	// DefaultRunsPageSize is the default number of runs returned per monitor
	DefaultRunsPageSize = 50
	// MaxRunsPageSize caps the runs listing
	MaxRunsPageSize = 200
)

// MonitorEvaluator runs one evaluation on demand. Implemented by
// workers.Evaluator; an interface so handler tests can stub it.
type MonitorEvaluator interface {
	EvaluateOne(ctx context.Context, monitorID, userID uuid.UUID, kind models.TriggerKind) (*models.EvaluationRun, ratelimit.Decision, error)
}

// MonitorHandler handles monitor-related requests
type MonitorHandler struct {
	monitorRepo *database.MonitorRepository
	evalRepo    *database.EvaluationRepository
	evaluator   MonitorEvaluator
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(monitorRepo *database.MonitorRepository, evalRepo *database.EvaluationRepository, evaluator MonitorEvaluator) *MonitorHandler {
	return &MonitorHandler{
		monitorRepo: monitorRepo,
		evalRepo:    evalRepo,
		evaluator:   evaluator,
	}
}

// RegisterRoutes registers monitor routes on the given router.
// The router should already have the /monitors prefix.
func (h *MonitorHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListMonitors).Methods("GET")
	r.HandleFunc("", h.CreateMonitor).Methods("POST")
	r.HandleFunc("/{id}", h.GetMonitor).Methods("GET")
	r.HandleFunc("/{id}", h.UpdateMonitor).Methods("PATCH")
	r.HandleFunc("/{id}", h.DeleteMonitor).Methods("DELETE")
	r.HandleFunc("/{id}/evaluate", h.EvaluateMonitor).Methods("POST")
	r.HandleFunc("/{id}/runs", h.ListRuns).Methods("GET")
}

// CreateMonitorRequest represents a create monitor request
type CreateMonitorRequest struct {
	Name             string `json:"name" validate:"required,min=1,max=200"`
	Query            string `json:"query" validate:"required,min=1,max=2000"`
	SourceURL        string `json:"source_url" validate:"required,url"`
	ConditionKind    string `json:"condition_kind" validate:"required,condition_kind"`
	FrequencySeconds int64  `json:"frequency_seconds" validate:"required,min=60"`
	NotifyEmail      string `json:"notify_email" validate:"omitempty,email"`
}

// UpdateMonitorRequest represents an update monitor request
type UpdateMonitorRequest struct {
	Name             *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Query            *string `json:"query,omitempty" validate:"omitempty,min=1,max=2000"`
	SourceURL        *string `json:"source_url,omitempty" validate:"omitempty,url"`
	ConditionKind    *string `json:"condition_kind,omitempty" validate:"omitempty,condition_kind"`
	FrequencySeconds *int64  `json:"frequency_seconds,omitempty" validate:"omitempty,min=60"`
	NotifyEmail      *string `json:"notify_email,omitempty" validate:"omitempty,email"`
	Active           *bool   `json:"active,omitempty"`
}

// ListMonitors lists monitors belonging to the authenticated user
func (h *MonitorHandler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	monitors, err := h.monitorRepo.ListByUser(r.Context(), user.ID)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to retrieve monitors")
		return
	}

	respondJSON(w, http.StatusOK, monitors)
}

// CreateMonitor creates a new monitor
func (h *MonitorHandler) CreateMonitor(w http.ResponseWriter, r *http.Request) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	var req CreateMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if maxBytesErr, ok := err.(*http.MaxBytesError); ok {
			respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytesErr.Limit))
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	if !h.validateRequest(w, req) {
		return
	}

	req.Query = validation.SanitizeText(req.Query)
	req.Name = validation.SanitizeText(req.Name)
	if req.Query == "" || req.Name == "" {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Name and query cannot be empty after sanitization")
		return
	}

	monitor := &models.Monitor{
		ID:            uuid.New(),
		UserID:        user.ID,
		Name:          req.Name,
		Query:         req.Query,
		SourceURL:     req.SourceURL,
		ConditionKind: models.ConditionKind(req.ConditionKind),
		Frequency:     time.Duration(req.FrequencySeconds) * time.Second,
		NotifyEmail:   req.NotifyEmail,
		Active:        true,
	}

	if err := h.monitorRepo.Create(r.Context(), monitor); err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to create monitor")
		return
	}

	respondJSON(w, http.StatusCreated, monitor)
}

// GetMonitor retrieves a monitor by ID
func (h *MonitorHandler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	monitor, ok := h.ownedMonitor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, monitor)
}

// UpdateMonitor updates a monitor's user-editable fields
func (h *MonitorHandler) UpdateMonitor(w http.ResponseWriter, r *http.Request) {
	monitor, ok := h.ownedMonitor(w, r)
	if !ok {
		return
	}

	var req UpdateMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	if !h.validateRequest(w, req) {
		return
	}

	if req.Name != nil {
		monitor.Name = validation.SanitizeText(*req.Name)
	}
	if req.Query != nil {
		monitor.Query = validation.SanitizeText(*req.Query)
	}
	if req.SourceURL != nil {
		monitor.SourceURL = *req.SourceURL
	}
	if req.ConditionKind != nil {
		monitor.ConditionKind = models.ConditionKind(*req.ConditionKind)
	}
	if req.FrequencySeconds != nil {
		monitor.Frequency = time.Duration(*req.FrequencySeconds) * time.Second
	}
	if req.NotifyEmail != nil {
		monitor.NotifyEmail = *req.NotifyEmail
	}
	if req.Active != nil {
		monitor.Active = *req.Active
	}
	if monitor.Name == "" || monitor.Query == "" {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Name and query cannot be empty after sanitization")
		return
	}

	if err := h.monitorRepo.Update(r.Context(), monitor); err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to update monitor")
		return
	}

	respondJSON(w, http.StatusOK, monitor)
}

// DeleteMonitor deletes a monitor
func (h *MonitorHandler) DeleteMonitor(w http.ResponseWriter, r *http.Request) {
	monitor, ok := h.ownedMonitor(w, r)
	if !ok {
		return
	}

	if err := h.monitorRepo.Delete(r.Context(), monitor.ID); err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to delete monitor")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": monitor.ID.String()})
}

// EvaluateMonitor runs a manual evaluation of the monitor right now. The
// per-user evaluation budget applies: a denied attempt returns 429 with rate
// limit headers and the recorded rate_limited run in the body.
func (h *MonitorHandler) EvaluateMonitor(w http.ResponseWriter, r *http.Request) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid monitor ID")
		return
	}

	run, decision, err := h.evaluator.EvaluateOne(r.Context(), id, user.ID, models.TriggerKindManual)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrMonitorNotFound), errors.Is(err, workers.ErrNotOwner):
			// Unknown IDs and foreign IDs get the same response so monitor
			// IDs can't be probed
			respondJSONError(w, http.StatusNotFound, "Not Found", "Monitor not found")
		case errors.Is(err, workers.ErrEvaluationInFlight):
			respondJSONError(w, http.StatusConflict, "Conflict", "An evaluation of this monitor is already running")
		case extraction.IsRateLimitError(err) || extraction.IsQuotaError(err):
			respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Extraction provider is throttling requests, try again later")
		default:
			respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Evaluation failed")
		}
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

	if run.Outcome == models.OutcomeRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(run.RetryAfter))
		respondJSONError(w, http.StatusTooManyRequests, "Too Many Requests",
			fmt.Sprintf("Evaluation budget exhausted, retry in %d seconds", run.RetryAfter))
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// ListRuns returns the evaluation history for a monitor, newest first
func (h *MonitorHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	monitor, ok := h.ownedMonitor(w, r)
	if !ok {
		return
	}

	limit := DefaultRunsPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			if parsed > MaxRunsPageSize {
				parsed = MaxRunsPageSize
			}
			limit = parsed
		}
	}

	runs, err := h.evalRepo.ListByMonitor(r.Context(), monitor.ID, limit)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to retrieve evaluation runs")
		return
	}

	respondJSON(w, http.StatusOK, runs)
}

// ownedMonitor loads the monitor from the path and verifies ownership. On any
// failure it writes the response and returns ok=false. A monitor owned by
// someone else reads as not found.
func (h *MonitorHandler) ownedMonitor(w http.ResponseWriter, r *http.Request) (*models.Monitor, bool) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return nil, false
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid monitor ID")
		return nil, false
	}

	monitor, err := h.monitorRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrMonitorNotFound) {
			respondJSONError(w, http.StatusNotFound, "Not Found", "Monitor not found")
		} else {
			respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to load monitor")
		}
		return nil, false
	}
	if monitor.UserID != user.ID {
		respondJSONError(w, http.StatusNotFound, "Not Found", "Monitor not found")
		return nil, false
	}

	return monitor, true
}

// validateRequest runs struct validation and writes the error response on failure
func (h *MonitorHandler) validateRequest(w http.ResponseWriter, req any) bool {
	if err := validation.Validate.Struct(req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok && len(validationErrors) > 0 {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Validation failed: %s", validationErrors[0].Error()))
			return false
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Validation failed")
		return false
	}
	return true
}
