package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaharia-lab/devserver/internal/build"
	"github.com/shaharia-lab/devserver/internal/config"
	"github.com/shaharia-lab/devserver/internal/eventbus"
	"github.com/shaharia-lab/devserver/internal/health"
	"github.com/shaharia-lab/devserver/internal/livereload"
	"github.com/shaharia-lab/devserver/internal/logger"
	"github.com/shaharia-lab/devserver/internal/metrics"
	"github.com/shaharia-lab/devserver/internal/proxy"
	"github.com/shaharia-lab/devserver/internal/server"
	"github.com/shaharia-lab/devserver/internal/telemetry"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dev server",
		Long: `Start the dev server: static files and live reload from the project
root, and the proxy table for everything that matches a rule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *options) error {
	app, cfg, err := opts.load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), app, cfg, nil)
}

// serve wires every component and blocks until ctx is canceled or one of
// them fails. When ln is nil the server listens on the configured address.
func serve(ctx context.Context, stdout, stderr io.Writer, app *config.AppConfig, cfg *config.DevServerConfig, ln net.Listener) error {
	if fi, err := os.Stat(cfg.Root); err != nil {
		return fmt.Errorf("project root: %w", err)
	} else if !fi.IsDir() {
		return fmt.Errorf("project root %q is not a directory", cfg.Root)
	}

	log, closer, err := logger.New(app.LogDir, app.SlogLevel(), stderr)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer closer.Close() //nolint:errcheck

	log.Info("devserver starting",
		slog.String("version", build.Version),
		slog.String("commit", build.CommitSHA),
		slog.String("build_date", build.BuildDate),
		slog.String("root", cfg.Root),
		slog.Int("proxy_rules", len(cfg.Server.Proxy)),
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:   app.OTLPEndpoint,
		Version:    build.Version,
		Registerer: reg,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			log.Warn("flushing telemetry", "error", err)
		}
	}()
	if tel.LogHandler != nil {
		log = slog.New(logger.Tee(log.Handler(), tel.LogHandler))
	}

	table, err := proxy.Compile(cfg.Server.Proxy)
	if err != nil {
		return err
	}

	bus := eventbus.New(log, 1)
	defer bus.Close()

	p := newPalette(stdout)
	bus.Subscribe("upstream.*", func(e eventbus.Event) {
		fmt.Fprintln(stdout, p.upstreamLine(e))
	})

	var (
		hub     *livereload.Hub
		watcher *livereload.Watcher
	)
	if cfg.Server.LiveReload {
		hub = livereload.NewHub(m, log)
		bus.Subscribe(eventbus.FileChanged, hub.HandleEvent)
		watcher, err = livereload.NewWatcher(cfg.Root, livereload.DefaultDebounce, bus, log)
		if err != nil {
			return fmt.Errorf("starting file watcher: %w", err)
		}
	}

	prober := health.New(health.Config{
		Table:    table,
		Interval: app.HealthInterval,
		Metrics:  m,
		Logger:   log,
		Events:   bus,
	})

	srv := server.New(server.Options{
		Config:   cfg,
		Root:     os.DirFS(cfg.Root),
		Table:    table,
		Proxy:    proxy.New(table, nil, m, log),
		Hub:      hub,
		Prober:   prober,
		Gatherer: reg,
		Logger:   log,
	})

	p.printBanner(stdout, cfg)
	if cfg.Server.Open {
		go openBrowser(cfg.URL())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if ln != nil {
			return srv.Serve(gctx, ln)
		}
		return srv.Run(gctx)
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		if err := prober.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return prober.Stop()
	})
	return g.Wait()
}

func openBrowser(url string) {
	time.Sleep(600 * time.Millisecond)
	ctx := context.Background()
	var c *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		c = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		c = exec.CommandContext(ctx, "open", url)
	default:
		c = exec.CommandContext(ctx, "xdg-open", url)
	}
	_ = c.Start()
}
