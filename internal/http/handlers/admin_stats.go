package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/fieldhand/internal/observability/metrics"
)

// AdminStatsHandler summarizes the pipeline counters of this process.
type AdminStatsHandler struct {
	gatherer prometheus.Gatherer
}

func NewAdminStatsHandler(gatherer prometheus.Gatherer) *AdminStatsHandler {
	return &AdminStatsHandler{gatherer: gatherer}
}

// GetStats handles GET /admin/stats.
func (h *AdminStatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.TakeSnapshot(h.gatherer))
}
