package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/example/colortok/internal/config"
	"github.com/example/colortok/internal/metrics"
	"github.com/example/colortok/internal/registry"
	"github.com/example/colortok/internal/render"
	"github.com/example/colortok/internal/webui"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Renderer lists modes and renders text under a mode.
type Renderer interface {
	ListModes() ([]string, error)
	Render(text, mode string) (render.Result, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Collector
}

func defaultOptions() options {
	return options{
		maxTextBytes:   65536,
		workers:        4,
		requestTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum text length in bytes for /api/tokenized.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent renders. Zero disables
// the limit.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request render deadline. Zero or less
// disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics instruments every route and serves /metrics from c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

const (
	apiName    = "Color Tokenize API"
	apiVersion = "1.0.0"
)

// routes are the metric labels for known paths; anything else is "other".
var routes = map[string]bool{
	"/":              true,
	"/api":           true,
	"/api/modes":     true,
	"/api/tokenized": true,
	"/health":        true,
	"/metrics":       true,
}

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	svc  Renderer
	opts options
	sem  chan struct{} // semaphore for worker pool
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves the JSON API, /health, the
// browser client and, with WithMetrics, /metrics.
func NewHandler(svc Renderer, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		svc:  svc,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api", h.handleAPIInfo)
	mux.HandleFunc("GET /api/modes", h.handleModes)
	mux.HandleFunc("GET /api/tokenized", h.handleTokenized)
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(webui.StaticFS())))

	var root http.Handler = mux
	if opts.metrics != nil {
		mux.Handle("GET /metrics", opts.metrics.Handler())
		root = opts.metrics.Middleware(routeLabel, root)
	}

	return h.withRequestID(root)
}

func routeLabel(r *http.Request) string {
	if routes[r.URL.Path] {
		return r.URL.Path
	}
	if strings.HasPrefix(r.URL.Path, "/static/") {
		return "/static/"
	}
	return "other"
}

type requestIDKey struct{}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID tags every request with an X-Request-ID, reusing the
// client's when present, and logs it at debug level.
func (h *handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		h.log.DebugContext(ctx, "http request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleAPIInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    apiName,
		"version": apiVersion,
		"endpoints": map[string]string{
			"/api/modes":     "GET - List available tokenization modes",
			"/api/tokenized": "GET - Get colored HTML tokens for text",
			"/health":        "GET - Liveness probe",
		},
	})
}

func (h *handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(webui.IndexHTML())
}

type modesResponse struct {
	Modes []string `json:"modes"`
	Count int      `json:"count"`
}

func (h *handler) handleModes(w http.ResponseWriter, r *http.Request) {
	modes, err := h.svc.ListModes()
	if err != nil {
		h.log.ErrorContext(r.Context(), "list modes failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if modes == nil {
		modes = []string{}
	}
	writeJSON(w, http.StatusOK, modesResponse{Modes: modes, Count: len(modes)})
}

type renderOutcome struct {
	res render.Result
	err error
}

func (h *handler) handleTokenized(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	mode := q.Get("mode")

	if text == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameter: text")
		return
	}

	if mode == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameter: mode")
		return
	}

	if h.opts.maxTextBytes > 0 && len(text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	// Acquire a worker slot, honouring context cancellation while waiting.
	// The slot is released when the render finishes, even after a timeout.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
	}

	ctx, cancel := r.Context(), context.CancelFunc(func() {})
	if h.opts.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.Context(), h.opts.requestTimeout)
	}
	defer cancel()

	reqID := RequestID(r.Context())
	start := time.Now()

	done := make(chan renderOutcome, 1)
	go func() {
		if h.sem != nil {
			defer func() { <-h.sem }()
		}
		res, err := h.svc.Render(text, mode)
		done <- renderOutcome{res: res, err: err}
	}()

	var out renderOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		h.log.WarnContext(r.Context(), "render timed out",
			slog.String("request_id", reqID),
			slog.String("mode", mode),
			slog.Int("text_len", len(text)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("error", ctx.Err().Error()),
		)
		writeError(w, http.StatusGatewayTimeout, "render timed out")
		return
	}

	durationMS := time.Since(start).Milliseconds()

	if out.err != nil {
		if errors.Is(out.err, registry.ErrModeNotFound) {
			h.log.WarnContext(r.Context(), "invalid mode",
				slog.String("request_id", reqID),
				slog.String("mode", mode),
			)
			writeError(w, http.StatusBadRequest, h.invalidModeMessage(mode))
			return
		}

		h.log.ErrorContext(r.Context(), "render failed",
			slog.String("request_id", reqID),
			slog.String("mode", mode),
			slog.Int("text_len", len(text)),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", out.err.Error()),
		)
		writeError(w, http.StatusInternalServerError, out.err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "render complete",
		slog.String("request_id", reqID),
		slog.String("mode", mode),
		slog.Int("text_len", len(text)),
		slog.Int("token_count", out.res.TokenCount),
		slog.Int64("duration_ms", durationMS),
	)

	writeJSON(w, http.StatusOK, out.res)
}

func (h *handler) invalidModeMessage(mode string) string {
	modes, err := h.svc.ListModes()
	if err != nil {
		modes = nil
	}

	return fmt.Sprintf("Invalid mode: %s. Available modes: %s", mode, quotedList(modes))
}

// quotedList renders names as a bracketed, single-quoted list.
func quotedList(names []string) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, n := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(singleQuote(n))
	}
	sb.WriteByte(']')
	return sb.String()
}

func singleQuote(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}

	var sb strings.Builder
	sb.WriteByte(quote)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == quote {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte(quote)
	return sb.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	svc             *render.Service
	collector       *metrics.Collector
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a Server for cfg. A nil svc is built from cfg on Start.
func New(cfg config.Config, svc *render.Service) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		svc:             svc,
		logger:          slog.Default(),
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithCollector sets the metrics collector. Without one, Start creates a
// collector when metrics are enabled.
func (s *Server) WithCollector(c *metrics.Collector) *Server {
	s.collector = c
	return s
}

// WithLogger sets the logger passed to the handler and the registry.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// Handler builds the http.Handler Start serves.
func (s *Server) Handler() http.Handler {
	if s.collector == nil && s.cfg.Server.Metrics {
		s.collector = metrics.NewCollector()
	}

	svc := s.svc
	if svc == nil {
		regOpts := []registry.Option{registry.WithLogger(s.logger)}
		svcOpts := []render.Option{render.WithLogger(s.logger)}
		if s.collector != nil {
			regOpts = append(regOpts, registry.WithObserver(s.collector))
			svcOpts = append(svcOpts, render.WithRecorder(s.collector))
		}
		svc = render.NewService(registry.New(s.cfg.Paths.TokenizersDir, regOpts...), svcOpts...)
		s.svc = svc
	}

	handlerOpts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second),
		WithLogger(s.logger),
	}
	if s.cfg.Server.Metrics {
		handlerOpts = append(handlerOpts, WithMetrics(s.collector))
	}

	return NewHandler(svc, handlerOpts...)
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("listening",
		slog.String("addr", s.cfg.Server.ListenAddr),
		slog.String("tokenizers_dir", s.cfg.Paths.TokenizersDir),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
