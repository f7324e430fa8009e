package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"link-redirect-service/resolver"
	"link-redirect-service/workers"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerStats counts requests for /metrics.
type ServerStats struct {
	requests atomic.Int64
	errors   atomic.Int64
	start    time.Time
}

func NewServerStats() *ServerStats {
	return &ServerStats{start: time.Now()}
}

// Middleware counts every request, and every 5xx response as an error.
func (s *ServerStats) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.requests.Add(1)
		if ww.Status() >= http.StatusInternalServerError {
			s.errors.Add(1)
		}
	})
}

// MetricsSources are the components whose counters /metrics reports. Any of
// them may be nil.
type MetricsSources struct {
	Resolver   *resolver.Resolver
	Dispatcher *workers.Dispatcher
	Reconciler *workers.Reconciler
}

// Health handles GET /health - simple health check
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Readiness handles GET /ready. Every named dependency must answer a ping.
func Readiness(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]bool, len(deps))
		ready := true
		for name, dep := range deps {
			ok := dep.Ping(ctx) == nil
			status[name] = ok
			ready = ready && ok
		}

		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":    status,
			"ready":     ready,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Metrics handles GET /metrics - application metrics
func Metrics(stats *ServerStats, src MetricsSources) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		uptime := time.Since(stats.start)
		totalRequests := stats.requests.Load()
		totalErrors := stats.errors.Load()

		errorRate := 0.0
		if totalRequests > 0 {
			errorRate = float64(totalErrors) / float64(totalRequests) * 100
		}

		body := map[string]any{
			"uptime": map[string]any{
				"seconds":   int64(uptime.Seconds()),
				"formatted": formatDuration(uptime),
			},
			"requests": map[string]any{
				"total":              totalRequests,
				"errors":             totalErrors,
				"error_rate_percent": errorRate,
			},
			"memory": map[string]any{
				"alloc_mb":       bToMb(m.Alloc),
				"total_alloc_mb": bToMb(m.TotalAlloc),
				"sys_mb":         bToMb(m.Sys),
				"num_gc":         m.NumGC,
			},
			"runtime": map[string]any{
				"goroutines": runtime.NumGoroutine(),
				"cpu_count":  runtime.NumCPU(),
			},
		}
		if src.Resolver != nil {
			body["resolver"] = src.Resolver.Stats()
		}
		if src.Dispatcher != nil {
			body["clicks"] = src.Dispatcher.Stats()
		}
		if src.Reconciler != nil {
			body["reconciler"] = src.Reconciler.Stats()
		}

		writeJSON(w, http.StatusOK, body)
	}
}

func bToMb(b uint64) float64 {
	return float64(b) / 1024 / 1024
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}
