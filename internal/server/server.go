package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shaharia-lab/devserver/internal/build"
	"github.com/shaharia-lab/devserver/internal/config"
	"github.com/shaharia-lab/devserver/internal/health"
	"github.com/shaharia-lab/devserver/internal/livereload"
	"github.com/shaharia-lab/devserver/internal/proxy"
	"github.com/shaharia-lab/devserver/internal/static"
)

const shutdownTimeout = 5 * time.Second

// Options carries the collaborators the Server routes to.
type Options struct {
	Config *config.DevServerConfig
	// Root is the project root served for unproxied requests.
	Root  fs.FS
	Table *proxy.Table
	Proxy *proxy.Proxy
	// Hub is nil when live reload is disabled.
	Hub *livereload.Hub
	// Prober is optional; without it /__devserver/status lists no upstreams.
	Prober   *health.Prober
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the dev server: static files from the project root plus the proxy table.
type Server struct {
	opts       Options
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	if opts.Config.Server.CORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.Config.Server.AllowedOrigins(),
			AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Route("/__devserver", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/status", s.handleStatus)
		if opts.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
		}
		if opts.Hub != nil {
			r.Get("/ws", opts.Hub.ServeHTTP)
			r.Get("/client.js", livereload.ServeClient)
		}
	})

	snippet := ""
	if opts.Hub != nil {
		snippet = livereload.Snippet
	}
	files := static.New(opts.Root, snippet)

	// Proxy rules take precedence over files in the root.
	r.Handle("/*", opts.Proxy.Middleware(files))

	s.handler = otelhttp.NewHandler(r, "devserver",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	s.httpServer = &http.Server{
		Addr:              opts.Config.ListenAddr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("dev server listening", "addr", ln.Addr().String(), "root", s.opts.Config.Root)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down server")
		// Hijacked connections are not tracked by Shutdown.
		if s.opts.Hub != nil {
			s.opts.Hub.Close()
		}
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestLogger is a chi middleware that logs each incoming request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 && proxy.IsUpgradeRequest(r) {
			status = http.StatusSwitchingProtocols
		}
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type ruleView struct {
	Context      string `json:"context"`
	Target       string `json:"target"`
	WS           bool   `json:"ws"`
	ChangeOrigin bool   `json:"changeOrigin"`
}

type liveReloadView struct {
	Enabled bool `json:"enabled"`
	Clients int  `json:"clients"`
}

type statusView struct {
	Version    string          `json:"version"`
	Root       string          `json:"root"`
	Proxy      []ruleView      `json:"proxy"`
	Upstreams  []health.Status `json:"upstreams"`
	LiveReload liveReloadView  `json:"live_reload"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	view := statusView{
		Version:   build.Version,
		Root:      s.opts.Config.Root,
		Proxy:     make([]ruleView, 0, s.opts.Table.Len()),
		Upstreams: []health.Status{},
	}
	for _, r := range s.opts.Table.Rules() {
		view.Proxy = append(view.Proxy, ruleView{
			Context:      r.Context,
			Target:       r.Target.String(),
			WS:           r.WS,
			ChangeOrigin: r.ChangeOrigin,
		})
	}
	if s.opts.Prober != nil {
		view.Upstreams = s.opts.Prober.Snapshot()
	}
	if s.opts.Hub != nil {
		view.LiveReload = liveReloadView{Enabled: true, Clients: s.opts.Hub.Count()}
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
