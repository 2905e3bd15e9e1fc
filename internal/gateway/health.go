package gateway

import (
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status           string  `json:"status"`
	Uptime           float64 `json:"uptime_seconds"`
	Tools            int     `json:"tools"`
	Sessions         int     `json:"sessions"`
	PendingApprovals int     `json:"pending_approvals"`
	PromptClients    int     `json:"prompt_clients"`
}

// handleHealth returns an http.HandlerFunc for GET /health. It reports
// "degraded" with 503 when approvals are waiting and no client is connected
// to answer them.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:           "ok",
			Uptime:           time.Since(g.startedAt).Truncate(time.Second).Seconds(),
			Tools:            g.engine.Registry().Len(),
			Sessions:         len(g.engine.Sessions()),
			PendingApprovals: g.engine.Manager().Pending(),
			PromptClients:    g.hub.Clients(),
		}

		status := http.StatusOK
		if resp.PendingApprovals > 0 && resp.PromptClients == 0 {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
