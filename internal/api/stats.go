package api

import (
	"net/http"

	"github.com/seantiz/keyturner/internal/engine"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int                     `json:"total"`
	ByStatus      map[string]int          `json:"by_status"`
	ByAction      map[string]int          `json:"by_action"`
	AvgDurationMS float64                 `json:"avg_duration_ms"`
	Dispatcher    engine.DispatcherStatus `json:"dispatcher"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetOperationStats(r.Context())
	if err != nil {
		s.logger.Error("get operation stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByAction:      stats.CountByAction,
		AvgDurationMS: stats.AvgDurationMS,
		Dispatcher:    s.service.DispatcherStatus(),
	})
}
