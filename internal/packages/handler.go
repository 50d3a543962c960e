package packages

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

// Handler exposes the package service over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates a new packages handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the package, patient and alert endpoints. Admin-only routes go through adminOnly.
func (h *Handler) Routes(r chi.Router, adminOnly func(http.Handler) http.Handler) {
	r.Route("/packages", func(r chi.Router) {
		r.Post("/", h.CreatePackage)
		r.Get("/", h.ListPackages)
		r.Route("/{packageID}", func(r chi.Router) {
			r.Get("/", h.GetPackage)
			r.Patch("/", h.UpdatePackage)
			r.With(adminOnly).Delete("/", h.DeletePackage)
			r.Post("/consume", h.ConsumeSession)
			r.Get("/sessions", h.ListPackageSessions)
			r.Post("/sessions", h.RecordPackageSession)
		})
	})
	r.Route("/patients/{patientID}", func(r chi.Router) {
		r.Get("/packages", h.ListPackagesByPatient)
		r.Get("/packages/active", h.GetActivePackage)
		r.Get("/alerts", h.ListAlertsByPatient)
	})
	r.Get("/alerts", h.ListAlerts)
	r.Post("/alerts/{alertID}/read", h.MarkAlertRead)
}

// CreatePackage handles POST /packages
func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req CreatePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pkg, err := h.service.CreatePackage(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create package", err)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.service.ListPackages(r.Context())
	if err != nil {
		h.fail(w, r, "list packages", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(pkgs))
}

func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.service.GetPackage(r.Context(), chi.URLParam(r, "packageID"))
	if err != nil {
		h.fail(w, r, "get package", err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// UpdatePackage handles PATCH /packages/{packageID}
func (h *Handler) UpdatePackage(w http.ResponseWriter, r *http.Request) {
	var req UpdatePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pkg, err := h.service.UpdatePackage(r.Context(), chi.URLParam(r, "packageID"), req)
	if err != nil {
		h.fail(w, r, "update package", err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// DeletePackage handles DELETE /packages/{packageID}
func (h *Handler) DeletePackage(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeletePackage(r.Context(), chi.URLParam(r, "packageID"))
	if err != nil {
		h.fail(w, r, "delete package", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ConsumeSession handles POST /packages/{packageID}/consume
func (h *Handler) ConsumeSession(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.service.ConsumeSession(r.Context(), chi.URLParam(r, "packageID"))
	if err != nil {
		h.fail(w, r, "consume session", err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (h *Handler) ListPackageSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListPackageSessions(r.Context(), chi.URLParam(r, "packageID"))
	if err != nil {
		h.fail(w, r, "list package sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sessions))
}

// RecordPackageSession handles POST /packages/{packageID}/sessions
func (h *Handler) RecordPackageSession(w http.ResponseWriter, r *http.Request) {
	var req RecordSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PackageID = chi.URLParam(r, "packageID")
	session, err := h.service.RecordPackageSession(r.Context(), req)
	if err != nil {
		h.fail(w, r, "record package session", err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) ListPackagesByPatient(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.service.ListPackagesByPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, r, "list patient packages", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(pkgs))
}

// GetActivePackage writes JSON null when the patient has no active package.
func (h *Handler) GetActivePackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.service.GetActivePackage(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, r, "get active package", err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (h *Handler) ListAlertsByPatient(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.ListAlertsByPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, r, "list patient alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(alerts))
}

// ListAlerts handles GET /alerts and GET /alerts?unread=true
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	var (
		alerts []*PackageAlert
		err    error
	)
	if unread {
		alerts, err = h.service.ListUnreadAlerts(r.Context())
	} else {
		alerts, err = h.service.ListAlerts(r.Context())
	}
	if err != nil {
		h.fail(w, r, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(alerts))
}

func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.MarkAlertRead(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		h.fail(w, r, "mark alert read", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("packages: "+op+" failed", "error", err, "path", r.URL.Path)
		writeError(w, status, "internal error")
		return
	}
	h.logger.Info("packages: "+op+" rejected", "error", err, "status", status)
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPatientNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, ErrExhausted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
