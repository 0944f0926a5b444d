package api

import (
	"net/http"
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/circuitbreaker"
)

type healthResponse struct {
	Status    string                       `json:"status"`
	Mode      string                       `json:"mode"`
	Offline   bool                         `json:"offline"`
	Pipelines *circuitbreaker.HealthStatus `json:"pipelines,omitempty"`
	CheckedAt time.Time                    `json:"checked_at"`
}

// GET /health
//
// Always 200 while the process serves; open pipeline circuits report
// "degraded" since verification still answers with INCONCLUSIVE.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Mode:      s.deps.Mode,
		Offline:   s.deps.Offline,
		CheckedAt: time.Now().UTC(),
	}
	if s.deps.Breakers != nil {
		h := s.deps.Breakers.Health()
		if !h.Healthy {
			resp.Status = "degraded"
		}
		resp.Pipelines = &h
	}
	writeJSON(w, http.StatusOK, resp)
}
