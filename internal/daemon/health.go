package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the camerad service
type HealthStatus struct {
	Status         string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds  int64  `json:"uptime_seconds"`
	SessionRunning bool   `json:"session_running"`
	Functional     bool   `json:"functional"`
	MQTTConnected  bool   `json:"mqtt_connected"`
	Phase          string `json:"phase"`
	ConfigError    string `json:"config_error,omitempty"`
}

// HealthCheck returns the current health status of the service
func (d *Daemon) HealthCheck() HealthStatus {
	d.mu.RLock()
	running := d.isRunning
	started := d.started
	d.mu.RUnlock()

	info := d.camera.Session()
	status := HealthStatus{
		Status:         "healthy",
		SessionRunning: info.Running,
		Functional:     info.Functional,
		MQTTConnected:  d.emitter.Stats().Connected,
		Phase:          d.camera.State().Phase.String(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if info.ConfigErr != nil {
		status.ConfigError = info.ConfigErr.Error()
	}

	// An inert graph is still serviceable: reconfigure can recover it
	if !running {
		status.Status = "unhealthy"
	} else if !status.SessionRunning || !status.Functional || !status.MQTTConnected {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (d *Daemon) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()

	uptime := int64(0)
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": uptime,
	})
}

// ReadinessHandler handles /readiness endpoint. Degraded still counts as ready.
func (d *Daemon) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := d.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// Handler returns the health endpoints mux
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.LivenessHandler)
	mux.HandleFunc("/readiness", d.ReadinessHandler)
	mux.Handle("/metrics", d.MetricsHandler())
	return mux
}

// StartHealthServer starts the HTTP health check server on addr.
// This runs in a separate goroutine and does not block.
func (d *Daemon) StartHealthServer(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      d.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	d.mu.Lock()
	if d.health != nil {
		d.mu.Unlock()
		return fmt.Errorf("health server already started")
	}
	d.health = server
	d.mu.Unlock()

	slog.Info("starting health check server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}

func (d *Daemon) stopHealthServer(ctx context.Context) {
	d.mu.Lock()
	server := d.health
	d.health = nil
	d.mu.Unlock()

	if server == nil {
		return
	}
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("health check server shutdown", "error", err)
	}
}
