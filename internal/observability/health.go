package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a single backend dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc probes a single dependency. Implementations are provided
// by the caller to avoid import cycles.
type HealthCheckFunc func(ctx context.Context) (bool, error)

const serviceName = "voice-translator"

// HealthCheckHandler handles liveness requests
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Service:   serviceName,
			Version:   "1.0.0",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// ReadinessHandler probes the named dependencies concurrently and reports
// 503 when any of them fails. Checks share a 5 second budget.
func ReadinessHandler(checks map[string]HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var mu sync.Mutex
		dependencies := make(map[string]DependencyStatus, len(checks))
		allHealthy := true

		g, ctx := errgroup.WithContext(ctx)
		for name, check := range checks {
			if check == nil {
				continue
			}
			name, check := name, check
			g.Go(func() error {
				start := time.Now()
				healthy, err := check(ctx)
				latency := time.Since(start).Milliseconds()

				status := "healthy"
				message := ""
				if err != nil || !healthy {
					status = "unhealthy"
					if err != nil {
						message = err.Error()
					}
				}

				mu.Lock()
				dependencies[name] = DependencyStatus{
					Status:    status,
					Message:   message,
					LatencyMs: latency,
				}
				if status != "healthy" {
					allHealthy = false
				}
				mu.Unlock()
				return nil
			})
		}
		g.Wait()

		status := HealthStatus{
			Status:       "ready",
			Service:      serviceName,
			Version:      "1.0.0",
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			status.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(status)
	}
}
