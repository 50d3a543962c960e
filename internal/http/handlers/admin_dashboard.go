package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/rehab-clinic-platform/internal/packages"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

// DashboardSource is satisfied by packages.Service.
type DashboardSource interface {
	ListPackages(ctx context.Context) ([]*packages.TherapyPackage, error)
	ListUnreadAlerts(ctx context.Context) ([]*packages.PackageAlert, error)
}

// AdminDashboardHandler handles the front-desk overview endpoint.
type AdminDashboardHandler struct {
	source DashboardSource
	logger *logging.Logger
	now    func() time.Time
}

// NewAdminDashboardHandler creates a new admin dashboard handler.
func NewAdminDashboardHandler(source DashboardSource, logger *logging.Logger) *AdminDashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminDashboardHandler{source: source, logger: logger, now: time.Now}
}

// DashboardOverviewResponse contains the main dashboard metrics.
type DashboardOverviewResponse struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	Packages       PackageMetrics  `json:"packages"`
	Alerts         AlertMetrics    `json:"alerts"`
	PendingActions []PendingAction `json:"pending_actions"`
}

// PackageMetrics summarizes packages by status.
type PackageMetrics struct {
	Total             int                     `json:"total"`
	ByStatus          map[packages.Status]int `json:"by_status"`
	SessionsRemaining int                     `json:"sessions_remaining"`
}

// AlertMetrics summarizes unread alerts by tier.
type AlertMetrics struct {
	Unread       int                        `json:"unread"`
	UnreadByType map[packages.AlertType]int `json:"unread_by_type"`
}

// PendingAction represents an action requiring staff attention.
type PendingAction struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
	Count       int    `json:"count"`
	Link        string `json:"link,omitempty"`
}

// GetDashboardOverview returns the package and alert overview.
// GET /admin/dashboard
func (h *AdminDashboardHandler) GetDashboardOverview(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.source.ListPackages(r.Context())
	if err != nil {
		h.logger.Error("admin dashboard: list packages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	alerts, err := h.source.ListUnreadAlerts(r.Context())
	if err != nil {
		h.logger.Error("admin dashboard: list alerts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, buildOverview(pkgs, alerts, h.now().UTC()))
}

func buildOverview(pkgs []*packages.TherapyPackage, alerts []*packages.PackageAlert, now time.Time) DashboardOverviewResponse {
	overview := DashboardOverviewResponse{
		GeneratedAt: now,
		Packages: PackageMetrics{
			Total:    len(pkgs),
			ByStatus: map[packages.Status]int{},
		},
		Alerts: AlertMetrics{
			Unread:       len(alerts),
			UnreadByType: map[packages.AlertType]int{},
		},
		PendingActions: []PendingAction{},
	}
	for _, p := range pkgs {
		overview.Packages.ByStatus[p.Status]++
		if !p.Status.IsTerminal() {
			overview.Packages.SessionsRemaining += p.Remaining()
		}
	}
	for _, a := range alerts {
		overview.Alerts.UnreadByType[a.AlertType]++
	}

	if n := overview.Alerts.UnreadByType[packages.AlertPriorityRed]; n > 0 {
		overview.PendingActions = append(overview.PendingActions, PendingAction{
			Type:        "package_last_session",
			Priority:    "high",
			Description: "Patients on their last session; offer a renewal",
			Count:       n,
			Link:        "/alerts?unread=true",
		})
	}
	if n := overview.Packages.ByStatus[packages.StatusCritical]; n > 0 {
		overview.PendingActions = append(overview.PendingActions, PendingAction{
			Type:        "package_critical",
			Priority:    "medium",
			Description: "Patients with three or fewer sessions left",
			Count:       n,
		})
	}
	if n := overview.Alerts.UnreadByType[packages.AlertExpiringSoon]; n > 0 {
		overview.PendingActions = append(overview.PendingActions, PendingAction{
			Type:        "package_expiring",
			Priority:    "medium",
			Description: "Packages expiring soon",
			Count:       n,
			Link:        "/alerts?unread=true",
		})
	}
	return overview
}
