package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/e7canasta/focus-sensor/internal/session"
)

// HealthStatus represents the health state of the sensor
type HealthStatus struct {
	Status        string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64                  `json:"uptime_seconds"`
	SessionActive bool                   `json:"session_active"`
	Session       session.State          `json:"session"`
	Loop          LoopStats              `json:"loop"`
	Components    map[string]interface{} `json:"components,omitempty"`
}

// HealthCheck returns the current health status
func (s *Sensor) HealthCheck() HealthStatus {
	st := s.Status()

	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()

	health := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: st.UptimeSeconds,
		SessionActive: st.SessionActive,
		Session:       st.Session,
		Loop:          st.Loop,
		Components:    make(map[string]interface{}),
	}

	s.componentsMu.RLock()
	for name, fn := range s.components {
		health.Components[name] = fn()
	}
	s.componentsMu.RUnlock()

	switch {
	case !running:
		health.Status = "unhealthy"
	case st.SessionActive && st.Stream != nil && !st.Stream.IsConnected:
		health.Status = "degraded"
	}

	return health
}

// LivenessHandler handles /health: 200 while the process is alive
func (s *Sensor) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": s.Status().UptimeSeconds,
	})
}

// ReadinessHandler handles /readiness: 503 when the service is not running
func (s *Sensor) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// MetricsHandler handles /metrics with plain text counters
func (s *Sensor) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	st := s.Status()
	inst := s.cfg.InstanceID

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	metric := func(name string, v interface{}) {
		fmt.Fprintf(w, "focus_%s{instance=%q} %v\n", name, inst, v)
	}

	metric("uptime_seconds", st.UptimeSeconds)
	metric("session_active", boolGauge(st.SessionActive))
	metric("session_focus_loss_count", st.Session.FocusLossCount)
	metric("sessions_started_total", st.Loop.SessionsStarted)
	metric("frames_processed_total", st.Loop.FramesProcessed)
	metric("faces_seen_total", st.Loop.FacesSeen)
	metric("drowsy_frames_total", st.Loop.DrowsyFrames)
	metric("landmark_errors_total", st.Loop.LandmarkErrors)
	metric("annotate_errors_total", st.Loop.AnnotateErrors)
	metric("processing_ms_avg", fmt.Sprintf("%.3f", st.Loop.AvgProcessingMS))
	metric("fps_real", fmt.Sprintf("%.2f", st.Loop.FPSReal))
	if st.LastSummary != nil {
		metric("last_focus_score", st.LastSummary.FocusScore)
		metric("last_duration_seconds", st.LastSummary.DurationSeconds)
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		metric("host_cpu_percent", fmt.Sprintf("%.2f", pct[0]))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		metric("host_memory_used_percent", fmt.Sprintf("%.2f", vm.UsedPercent))
	}
}

// StartSessionHandler handles POST /session/start
func (s *Sensor) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	state, err := s.StartSession(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, state)
	case errors.Is(err, session.ErrInvalidState):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrResourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// StopSessionHandler handles POST /session/stop
func (s *Sensor) StopSessionHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.StopSession()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, session.ErrInvalidState):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// SessionHandler handles GET /session
func (s *Sensor) SessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// Routes returns the HTTP surface. Extra handlers (such as the viewer
// websocket) are mounted by pattern.
func (s *Sensor) Routes(extra map[string]http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.LivenessHandler)
	mux.HandleFunc("GET /readiness", s.ReadinessHandler)
	mux.HandleFunc("GET /metrics", s.MetricsHandler)
	mux.HandleFunc("GET /session", s.SessionHandler)
	mux.HandleFunc("POST /session/start", s.StartSessionHandler)
	mux.HandleFunc("POST /session/stop", s.StopSessionHandler)

	patterns := make([]string, 0, len(extra))
	for p := range extra {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, p := range patterns {
		mux.Handle(p, extra[p])
	}

	return mux
}

// ListenAndServe runs the HTTP server on addr until ctx is cancelled
func (s *Sensor) ListenAndServe(ctx context.Context, addr string, extra map[string]http.Handler) error {
	server := &http.Server{
		Addr:        addr,
		Handler:     s.Routes(extra),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("core: starting http server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness", "/metrics", "/session"},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("core: http server shutdown", "error", err)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("core: write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
