package server

import (
	"net/http"

	"summoner-story/internal/api"

	"github.com/goccy/go-json"
)

const HealthPath = "/healthz"

// Upstream reports the state of the Riot client.
type Upstream interface {
	GetRateLimitInfo() api.RateLimitInfo
	BreakerState() api.BreakerState
}

type healthResponse struct {
	Status    string            `json:"status"`
	Breaker   api.BreakerState  `json:"breaker"`
	RateLimit api.RateLimitInfo `json:"rate_limit"`
}

// HealthHandler answers 200 while the upstream breaker admits calls and 503 while it is open.
func HealthHandler(upstream Upstream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:    "ok",
			Breaker:   upstream.BreakerState(),
			RateLimit: upstream.GetRateLimitInfo(),
		}
		code := http.StatusOK
		if resp.Breaker == api.BreakerOpen {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
