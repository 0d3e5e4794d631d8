package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "allybot/pkg/logx"
)

func TestRootAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("allybot_up 1\n"))
	})
	s := New(Config{Addr: "127.0.0.1:0"}, nil, metrics, logx.Nop())
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "allybot_up 1") {
		t.Fatalf("GET /metrics = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", rec.Code)
	}
}

func TestHealthStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		wantCode int
		wantStat string
	}{
		{"healthy", Status{Uptime: "1m0s", Checks: map[string]any{"storage": "ok"}}, http.StatusOK, "ok"},
		{"degraded", Status{Failing: []string{"storage"}}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{Addr: ":0"}, func(ctx context.Context) Status { return tt.status }, nil, logx.Nop())
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var got Status
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Status != tt.wantStat {
				t.Fatalf("status = %q, want %q", got.Status, tt.wantStat)
			}
		})
	}
}

func TestPprofOnlyOnLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want int
	}{
		{"127.0.0.1:6060", http.StatusOK},
		{"localhost:6060", http.StatusOK},
		{":6060", http.StatusNotFound},
		{"0.0.0.0:6060", http.StatusNotFound},
	}
	for _, tt := range tests {
		tt := tt
		s := New(Config{Addr: tt.addr, Pprof: true}, nil, nil, logx.Nop())
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
		if rec.Code != tt.want {
			t.Fatalf("%s: GET /debug/pprof/ = %d, want %d", tt.addr, rec.Code, tt.want)
		}
	}
}

func TestStartStopDisabled(t *testing.T) {
	s := New(Config{}, nil, nil, logx.Nop())
	s.Start(context.Background())
	if s.Supervisor() != nil {
		t.Fatal("disabled server should not start a supervisor")
	}
	s.Stop(context.Background())
}
