// Package health tracks whether proxy targets are reachable.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaharia-lab/devserver/internal/eventbus"
	"github.com/shaharia-lab/devserver/internal/metrics"
	"github.com/shaharia-lab/devserver/internal/proxy"
	"github.com/shaharia-lab/devserver/internal/telemetry"
)

const defaultDialTimeout = 2 * time.Second

// EventPublisher allows the prober to emit transitions without depending on a
// concrete event bus implementation.
type EventPublisher interface {
	Publish(eventType string, payload map[string]string)
}

// Status is the latest probe result for one proxy rule.
type Status struct {
	Rule      string        `json:"rule"`
	Target    string        `json:"target"`
	Up        bool          `json:"up"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Config holds the prober configuration.
type Config struct {
	Table       *proxy.Table
	Interval    time.Duration
	DialTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	// Events is optional. When set, up/down transitions are published.
	Events EventPublisher
}

// Prober dials every proxy target on a schedule.
type Prober struct {
	cfg    Config
	dialer *net.Dialer

	mu       sync.RWMutex
	statuses map[string]Status
	cron     gocron.Scheduler
}

// New creates a Prober. It does not probe until Start or CheckOnce is called.
func New(cfg Config) *Prober {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Prober{
		cfg:      cfg,
		dialer:   &net.Dialer{Timeout: cfg.DialTimeout},
		statuses: make(map[string]Status),
	}
}

// Start schedules periodic probes, the first one immediately.
func (p *Prober) Start(ctx context.Context) error {
	if p.cfg.Table.Len() == 0 {
		return nil
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating gocron scheduler: %w", err)
	}

	_, err = cron.NewJob(
		gocron.DurationJob(p.cfg.Interval),
		gocron.NewTask(func() { p.CheckOnce(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = cron.Shutdown()
		return fmt.Errorf("scheduling upstream probe: %w", err)
	}

	p.mu.Lock()
	p.cron = cron
	p.mu.Unlock()

	cron.Start()
	p.cfg.Logger.Info("upstream prober started",
		"targets", p.cfg.Table.Len(), "interval", p.cfg.Interval)
	return nil
}

// Stop shuts down the schedule. Safe to call when Start was never called.
func (p *Prober) Stop() error {
	p.mu.Lock()
	cron := p.cron
	p.cron = nil
	p.mu.Unlock()
	if cron == nil {
		return nil
	}
	return cron.Shutdown()
}

// CheckOnce probes every target concurrently and returns the fresh statuses
// in table order.
func (p *Prober) CheckOnce(ctx context.Context) []Status {
	rules := p.cfg.Table.Rules()
	results := make([]Status, len(rules))

	var wg sync.WaitGroup
	for i, r := range rules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.probe(ctx, r)
		}()
	}
	wg.Wait()

	// A check cut short by shutdown says nothing about the target.
	if ctx.Err() != nil {
		return results
	}
	for _, st := range results {
		p.record(st)
	}
	return results
}

// Snapshot returns the latest statuses in table order. Rules not probed yet
// are omitted.
func (p *Prober) Snapshot() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Status, 0, len(p.statuses))
	for _, r := range p.cfg.Table.Rules() {
		if st, ok := p.statuses[r.Context]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (p *Prober) probe(ctx context.Context, r *proxy.Rule) Status {
	st := Status{Rule: r.Context, Target: r.Target.String()}

	ctx, span := telemetry.Tracer().Start(ctx, "upstream.probe", trace.WithAttributes(
		attribute.String("devserver.rule", r.Context),
		attribute.String("devserver.target", st.Target),
	))
	defer span.End()

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", hostPort(r))
	st.Latency = time.Since(start)
	st.CheckedAt = time.Now()
	if err != nil {
		st.Error = err.Error()
		span.SetStatus(codes.Error, st.Error)
		return st
	}
	_ = conn.Close()
	st.Up = true
	return st
}

// record stores st and reports transitions. The first result for a rule
// counts as a transition only when the target is down.
func (p *Prober) record(st Status) {
	p.mu.Lock()
	prev, seen := p.statuses[st.Rule]
	p.statuses[st.Rule] = st
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		v := 0.0
		if st.Up {
			v = 1
		}
		p.cfg.Metrics.UpstreamUp.WithLabelValues(st.Rule, st.Target).Set(v)
	}

	changed := (seen && prev.Up != st.Up) || (!seen && !st.Up)
	if !changed {
		return
	}

	payload := map[string]string{"rule": st.Rule, "target": st.Target}
	if st.Up {
		p.cfg.Logger.Info("upstream is reachable", "rule", st.Rule, "target", st.Target)
		p.publish(eventbus.UpstreamUp, payload)
		return
	}
	payload["error"] = st.Error
	p.cfg.Logger.Warn("upstream is unreachable", "rule", st.Rule, "target", st.Target, "error", st.Error)
	p.publish(eventbus.UpstreamDown, payload)
}

func (p *Prober) publish(eventType string, payload map[string]string) {
	if p.cfg.Events != nil {
		p.cfg.Events.Publish(eventType, payload)
	}
}

func hostPort(r *proxy.Rule) string {
	if r.Target.Port() != "" {
		return r.Target.Host
	}
	if r.Target.Scheme == "https" {
		return net.JoinHostPort(r.Target.Hostname(), "443")
	}
	return net.JoinHostPort(r.Target.Hostname(), "80")
}
