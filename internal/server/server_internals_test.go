package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/colortok/internal/config"
)

// --- New & WithShutdownTimeout ---

func TestNew_DefaultShutdownTimeout(t *testing.T) {
	cfg := config.DefaultConfig()

	s := New(cfg, nil)
	if s == nil {
		t.Fatal("New() returned nil")
	}

	if s.shutdownTimeout != 30*time.Second {
		t.Errorf("shutdownTimeout = %v; want 30s", s.shutdownTimeout)
	}
}

func TestNew_ShutdownTimeoutFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.ShutdownTimeout = 7

	if got := New(cfg, nil).shutdownTimeout; got != 7*time.Second {
		t.Errorf("shutdownTimeout = %v; want 7s", got)
	}
}

func TestWithShutdownTimeout(t *testing.T) {
	cfg := config.DefaultConfig()

	s := New(cfg, nil).WithShutdownTimeout(5 * time.Second)
	if s.shutdownTimeout != 5*time.Second {
		t.Errorf("shutdownTimeout = %v; want 5s", s.shutdownTimeout)
	}
}

func TestWithShutdownTimeout_Chaining(t *testing.T) {
	cfg := config.DefaultConfig()
	s := New(cfg, nil)
	returned := s.WithShutdownTimeout(10 * time.Second)
	// Must return the same *Server for chaining.
	if returned != s {
		t.Error("WithShutdownTimeout should return the same *Server")
	}
}

func TestHandler_BuildsServiceOnce(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.TokenizersDir = t.TempDir()

	s := New(cfg, nil)
	_ = s.Handler()
	first := s.svc
	_ = s.Handler()

	if first == nil || s.svc != first {
		t.Error("Handler() should build the render service once")
	}
	if s.collector == nil {
		t.Error("metrics enabled by default; want a collector")
	}
}

// --- quoted mode lists ---

func TestQuotedList(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, "[]"},
		{[]string{"bert"}, "['bert']"},
		{[]string{"bert", "gpt2"}, "['bert', 'gpt2']"},
		{[]string{"it's"}, `["it's"]`},
		{[]string{`a'b"c`}, `['a\'b"c']`},
		{[]string{`back\slash`}, `['back\\slash']`},
	}

	for _, tc := range cases {
		if got := quotedList(tc.in); got != tc.want {
			t.Errorf("quotedList(%q) = %s; want %s", tc.in, got, tc.want)
		}
	}
}

// --- routeLabel ---

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/":                  "/",
		"/api/tokenized":     "/api/tokenized",
		"/static/tokens.css": "/static/",
		"/wp-admin":          "other",
	}

	for path, want := range cases {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if got := routeLabel(r); got != want {
			t.Errorf("routeLabel(%s) = %s; want %s", path, got, want)
		}
	}
}

// --- ProbeHTTP ---

func TestProbeHTTP_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	// ProbeHTTP uses "http://" prefix + addr, so strip the scheme.
	addr := srv.Listener.Addr().String()

	err := ProbeHTTP(addr)
	if err != nil {
		t.Errorf("ProbeHTTP(%q) = %v; want nil", addr, err)
	}
}

func TestProbeHTTP_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().String()

	err := ProbeHTTP(addr)
	if err == nil {
		t.Error("ProbeHTTP() = nil; want error for non-200 response")
	}
}

func TestProbeHTTP_ConnectionRefused(t *testing.T) {
	err := ProbeHTTP("127.0.0.1:1")
	if err == nil {
		t.Error("ProbeHTTP() = nil; want error for unreachable host")
	}
}

// --- Functional options ---

func TestOptions_WithMaxTextBytes(t *testing.T) {
	opts := defaultOptions()
	WithMaxTextBytes(1024)(&opts)

	if opts.maxTextBytes != 1024 {
		t.Errorf("maxTextBytes = %d; want 1024", opts.maxTextBytes)
	}
}

func TestOptions_WithWorkers(t *testing.T) {
	opts := defaultOptions()
	WithWorkers(8)(&opts)

	if opts.workers != 8 {
		t.Errorf("workers = %d; want 8", opts.workers)
	}
}

func TestOptions_WithRequestTimeout(t *testing.T) {
	opts := defaultOptions()
	WithRequestTimeout(90 * time.Second)(&opts)

	if opts.requestTimeout != 90*time.Second {
		t.Errorf("requestTimeout = %v; want 90s", opts.requestTimeout)
	}
}
