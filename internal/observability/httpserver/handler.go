package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/pprof"
	"time"
)

const healthTimeout = 3 * time.Second

// StatusFunc builds the /health body. It is called concurrently.
type StatusFunc func(ctx context.Context) Status

type Status struct {
	Status  string         `json:"status"`
	Uptime  string         `json:"uptime"`
	Checks  map[string]any `json:"checks,omitempty"`
	Failing []string       `json:"failing,omitempty"`
}

func (s Status) Healthy() bool { return len(s.Failing) == 0 }

// Handler returns the mux the server serves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "OK")
	})
	mux.HandleFunc("GET /health", s.health)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.cfg.Pprof && isLoopbackAddr(s.cfg.Addr) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// health answers 503 while any check is failing.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	var st Status
	if s.status != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		st = s.status(ctx)
		cancel()
	}
	code := http.StatusOK
	if !st.Healthy() {
		code = http.StatusServiceUnavailable
	}
	if st.Status == "" {
		st.Status = map[bool]string{true: "ok", false: "degraded"}[st.Healthy()]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(st)
}
