package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/wolfman30/rehab-clinic-platform/internal/compliance"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditQuerier is satisfied by compliance.AuditService.
type AuditQuerier interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// AdminAuditHandler lists the audit trail of package overrides and alert acknowledgements.
type AdminAuditHandler struct {
	audit  AuditQuerier
	logger *logging.Logger
}

func NewAdminAuditHandler(audit AuditQuerier, logger *logging.Logger) *AdminAuditHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminAuditHandler{audit: audit, logger: logger}
}

// AuditEventsResponse wraps one page of audit events.
type AuditEventsResponse struct {
	Events []compliance.AuditEvent `json:"events"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// ListEvents returns audit events, newest first.
// GET /admin/audit?patient_id=&package_id=&event_type=a,b&start=&end=&limit=&offset=
func (h *AdminAuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultAuditLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	filter := compliance.AuditFilter{
		PatientID: strings.TrimSpace(q.Get("patient_id")),
		PackageID: strings.TrimSpace(q.Get("package_id")),
		StartTime: start,
		EndTime:   end,
		Limit:     limit,
		Offset:    offset,
	}
	for _, t := range strings.Split(q.Get("event_type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.EventTypes = append(filter.EventTypes, compliance.AuditEventType(t))
		}
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("admin audit: query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, AuditEventsResponse{Events: events, Limit: limit, Offset: offset})
}
