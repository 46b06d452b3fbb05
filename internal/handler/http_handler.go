// Package handler exposes the workflow engine over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/greenchain/esg-approvals/internal/apperr"
	"github.com/greenchain/esg-approvals/internal/repository"
	"github.com/greenchain/esg-approvals/internal/service"
)

// HTTPHandler handles the workflow, audit and notification routes.
type HTTPHandler struct {
	workflows     *service.WorkflowService
	audits        *service.AuditService
	notifications *service.NotificationService
	log           zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	workflows *service.WorkflowService,
	audits *service.AuditService,
	notifications *service.NotificationService,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		workflows:     workflows,
		audits:        audits,
		notifications: notifications,
		log:           log,
	}
}

// RegisterRoutes mounts all routes under /api/v1.
func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/workflows", h.CreateWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows", h.ListWorkflows).Methods(http.MethodGet)

	// Fixed segments before the {id} routes so "audit" and "notifications"
	// are not captured as workflow ids.
	api.HandleFunc("/workflows/audit/logs", h.ListAuditLogs).Methods(http.MethodGet)
	api.HandleFunc("/workflows/audit/verify", h.VerifyAuditChain).Methods(http.MethodGet)
	api.HandleFunc("/workflows/notifications/{userId}", h.ListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/workflows/notifications/{id}/read", h.MarkNotificationRead).Methods(http.MethodPatch)

	api.HandleFunc("/workflows/{id}", h.GetWorkflow).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}/approve", h.ApproveStep).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/reject", h.RejectStep).Methods(http.MethodPost)
}

// CreateWorkflow handles POST /workflows.
func (h *HTTPHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req service.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.InvalidInput("body", "invalid request body"))
		return
	}

	wf, err := h.workflows.CreateWorkflow(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, wf)
}

// ListWorkflows handles GET /workflows?status=&submittedBy=.
func (h *HTTPHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	var filter repository.WorkflowFilter
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = &status
	}
	if submittedBy := r.URL.Query().Get("submittedBy"); submittedBy != "" {
		filter.SubmittedBy = &submittedBy
	}

	workflows, err := h.workflows.GetWorkflows(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if workflows == nil {
		workflows = []*repository.ApprovalWorkflow{}
	}
	h.writeJSON(w, http.StatusOK, workflows)
}

// GetWorkflow handles GET /workflows/{id}.
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	wf, err := h.workflows.GetWorkflowByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

type stepActionRequest struct {
	Level    int    `json:"level"`
	Approver string `json:"approver"`
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

// ApproveStep handles POST /workflows/{id}/approve.
func (h *HTTPHandler) ApproveStep(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req stepActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.InvalidInput("body", "invalid request body"))
		return
	}

	wf, err := h.workflows.ApproveStep(r.Context(), id, req.Level, req.Approver, req.Comments)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// RejectStep handles POST /workflows/{id}/reject.
func (h *HTTPHandler) RejectStep(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req stepActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.InvalidInput("body", "invalid request body"))
		return
	}

	wf, err := h.workflows.RejectStep(r.Context(), id, req.Level, req.Approver, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// ListAuditLogs handles GET /workflows/audit/logs?userId=&category=&limit=.
func (h *HTTPHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	var filter repository.AuditFilter
	if userID := r.URL.Query().Get("userId"); userID != "" {
		filter.UserID = &userID
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filter.Category = &category
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	entries, err := h.audits.GetAuditLogs(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*repository.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// VerifyAuditChain handles GET /workflows/audit/verify.
func (h *HTTPHandler) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	count, err := h.audits.VerifyChain(r.Context())
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeChainIntegrity {
			h.writeJSON(w, http.StatusOK, map[string]any{
				"valid": false,
				"error": err.Error(),
			})
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"entries": count,
	})
}

// ListNotifications handles GET /workflows/notifications/{userId}?unreadOnly=.
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	unreadOnly := r.URL.Query().Get("unreadOnly") == "true"

	notifications, err := h.notifications.GetNotifications(r.Context(), userID, unreadOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if notifications == nil {
		notifications = []*repository.Notification{}
	}
	h.writeJSON(w, http.StatusOK, notifications)
}

// MarkNotificationRead handles PATCH /workflows/notifications/{id}/read.
func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	n, err := h.notifications.MarkNotificationRead(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if n == nil {
		h.writeError(w, apperr.NotFound("notification", id))
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

// ── response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	switch {
	case status == http.StatusInternalServerError:
		h.log.Error().Err(err).Msg("request failed")
	case apperr.IsNotFound(err):
		h.log.Debug().Err(err).Msg("resource not found")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
