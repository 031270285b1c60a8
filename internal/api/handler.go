// Package api is the HTTP surface of the gateway: query submission,
// cancellation, status, paged results, the live status stream, and the
// admin audit listing.
package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"querygate/internal/domain"
	"querygate/internal/service/exec"
)

// Handler wires the execution core to the HTTP routes.
type Handler struct {
	manager  *exec.Manager
	policies domain.PolicyResolver
	audit    domain.AuditRepository
	logger   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(manager *exec.Manager, policies domain.PolicyResolver, audit domain.AuditRepository, logger *slog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		policies: policies,
		audit:    audit,
		logger:   logger.With("component", "api"),
	}
}

// Register mounts the v1 routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/queries", h.submitQuery)
		r.Get("/queries", h.listQueries)
		r.Get("/queries/events", h.streamEvents)
		r.Get("/queries/{executionID}", h.getQuery)
		r.Post("/queries/{executionID}/cancel", h.cancelQuery)
		r.Get("/queries/{executionID}/results", h.getResults)
		r.Get("/audit", h.listAudit)
	})
}

type submitQueryRequest struct {
	DatasourceID string `json:"datasourceId"`
	SQL          string `json:"sql"`
}

func (h *Handler) submitQuery(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrForbidden("no authenticated principal"))
		return
	}

	var req submitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if req.DatasourceID == "" {
		h.writeError(w, domain.ErrValidation("datasourceId is required"))
		return
	}

	policy, err := h.policies.Resolve(r.Context(), principal, req.DatasourceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.manager.Submit(r.Context(), principal, domain.SubmitRequest{
		DatasourceID: req.DatasourceID,
		SQL:          req.SQL,
		OriginAddr:   originAddr(r),
	}, *policy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) listQueries(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrForbidden("no authenticated principal"))
		return
	}
	views := h.manager.List(r.Context(), principal)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"executions": views})
}

func (h *Handler) getQuery(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrForbidden("no authenticated principal"))
		return
	}
	view, err := h.manager.GetStatus(r.Context(), principal, chi.URLParam(r, "executionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) cancelQuery(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrForbidden("no authenticated principal"))
		return
	}
	view, err := h.manager.Cancel(r.Context(), principal, chi.URLParam(r, "executionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, domain.ErrForbidden("no authenticated principal"))
		return
	}

	pageSize := 0
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, domain.ErrValidation("pageSize must be an integer"))
			return
		}
		pageSize = n
	}

	page, err := h.manager.GetResults(r.Context(), principal,
		chi.URLParam(r, "executionID"), r.URL.Query().Get("pageToken"), pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok || !principal.IsAdmin {
		h.writeError(w, domain.ErrForbidden("audit trail requires admin"))
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			h.writeError(w, domain.ErrValidation("limit must be in [1,1000]"))
			return
		}
		limit = n
	}

	entries, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("write response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", "error", err)
	}
	h.writeJSON(w, status, map[string]interface{}{
		"code":    status,
		"message": err.Error(),
	})
}

func originAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
