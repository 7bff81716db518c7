package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/gaspardpetit/liverelay/internal/logx"
	"github.com/gaspardpetit/liverelay/internal/secret"
	"github.com/gaspardpetit/liverelay/internal/serverstate"
)

// ModeTextOnly is the only response modality the relay requests.
const ModeTextOnly = "text-only"

type healthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
	Version   string  `json:"version"`
}

type processStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

type statusResponse struct {
	Status            string        `json:"status"`
	Mode              string        `json:"mode"`
	Model             string        `json:"model"`
	HasAPIKey         bool          `json:"hasApiKey"`
	Uptime            float64       `json:"uptime"`
	ActiveConnections int64         `json:"activeConnections"`
	State             string        `json:"state"`
	Process           *processStats `json:"process,omitempty"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Debug().Err(err).Msg("write response")
	}
}

func (s *Server) uptime() float64 { return time.Since(s.started).Seconds() }

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Uptime:    s.uptime(),
		Version:   s.info.Version,
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	state := serverstate.GetState()
	status := "running"
	if serverstate.IsDraining() {
		status = serverstate.StatusDraining
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:            status,
		Mode:              ModeTextOnly,
		Model:             s.cfg.Model,
		HasAPIKey:         secret.Present(s.cfg.APIKey),
		Uptime:            s.uptime(),
		ActiveConnections: s.conns.Load(),
		State:             state,
		Process:           readProcess(r.Context()),
	})
}

func readProcess(ctx context.Context) *processStats {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil
	}
	st := &processStats{}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	return st
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	endpoints := map[string]string{
		"health":    "/health",
		"status":    "/api/status",
		"websocket": s.cfg.WSPath,
	}
	if s.cfg.SharedMetrics() {
		endpoints["metrics"] = "/metrics"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "liverelay",
		"version":   s.info.Version,
		"mode":      ModeTextOnly,
		"endpoints": endpoints,
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	var body errorBody
	body.Error.Message = "Route not found"
	body.Error.Status = http.StatusNotFound
	writeJSON(w, http.StatusNotFound, body)
}
