package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/wolfman30/fieldhand/internal/audit"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

type failureLister interface {
	Recent(ctx context.Context, phone string, limit int) ([]audit.Failure, error)
}

// AdminFailuresHandler lists messages the pipeline could not process.
type AdminFailuresHandler struct {
	failures failureLister
	logger   *logging.Logger
}

func NewAdminFailuresHandler(failures failureLister, logger *logging.Logger) *AdminFailuresHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminFailuresHandler{failures: failures, logger: logger}
}

// ListFailures handles GET /admin/failures?phone=&limit=.
func (h *AdminFailuresHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	if h.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failure audit is not configured")
		return
	}
	phone := normalizePhone(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.failures.Recent(r.Context(), phone, limit)
	if err != nil {
		h.logger.Error("admin: list failures", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}
	if items == nil {
		items = []audit.Failure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"phone": phone, "failures": items, "total": len(items)})
}
