// Package channels holds what chat network adapters share: connection
// status, structured errors and client-side rate limiting.
package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Adapter is a connection to a chat network delivering inbound messages.
type Adapter interface {
	// Start connects and begins delivering messages on Events.
	Start(ctx context.Context) error

	// Stop disconnects, waiting for the receive loop until ctx is done.
	Stop(ctx context.Context) error

	// Events is closed when the adapter stops.
	Events() <-chan *models.Message

	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
}

// Status represents the connection status of a channel.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"` // Unix timestamp
}

// HealthStatus represents the health check result for an adapter.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`

	// Degraded means the adapter works but recently had to reconnect.
	Degraded bool `json:"degraded,omitempty"`
}

// HealthHandler serves the adapter health as JSON, answering 503 when
// unhealthy.
func HealthHandler(a Adapter, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		health := a.HealthCheck(ctx)
		body := struct {
			Status Status       `json:"status"`
			Health HealthStatus `json:"health"`
		}{a.Status(), health}

		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	})
}
