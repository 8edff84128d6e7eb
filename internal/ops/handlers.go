package ops

import (
	"encoding/json"
	"net/http"
	"time"

	"weatheringest/internal/breaker"
	"weatheringest/internal/config"
	"weatheringest/internal/health"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Service       string           `json:"service"`
	Environment   string           `json:"environment,omitempty"`
	Build         config.BuildInfo `json:"build"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Breaker       breaker.Snapshot `json:"circuit_breaker"`
	Timestamp     time.Time        `json:"timestamp"`
}

// HandleHealth runs the dependency probes. Degraded still answers 200 so
// that orchestrators only restart on a critical failure.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := health.Check(r.Context(), s.cfg.HealthTimeout, s.cfg.Probes)

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
		s.logger.Warn("health check unhealthy", "components", report.Components)
	}
	writeJSON(w, status, report)
}

// HandleStatus reports the breaker snapshot and build metadata.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, StatusResponse{
		Service:       s.cfg.Service,
		Environment:   s.cfg.Environment,
		Build:         s.cfg.Build,
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
		Breaker:       s.cfg.Breaker.Snapshot(),
		Timestamp:     now.UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
