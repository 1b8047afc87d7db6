// Package proxy forwards matching dev-server requests to backend origins.
// Plain requests and upgraded (WebSocket) connections share one
// httputil.ReverseProxy per rule; upgrades are only tunneled on rules that
// enable them.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shaharia-lab/devserver/internal/metrics"
)

// Proxy routes requests through the compiled table.
type Proxy struct {
	table   *Table
	proxies map[*Rule]*httputil.ReverseProxy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds a reverse proxy for every rule in table. base is the transport
// each rule's transport is cloned from; nil means http.DefaultTransport.
func New(table *Table, base *http.Transport, m *metrics.Metrics, logger *slog.Logger) *Proxy {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Proxy{
		table:   table,
		proxies: make(map[*Rule]*httputil.ReverseProxy, table.Len()),
		metrics: m,
		logger:  logger,
	}
	for _, r := range table.Rules() {
		p.proxies[r] = p.newReverseProxy(r, base)
	}
	return p
}

func (p *Proxy) newReverseProxy(r *Rule, base *http.Transport) *httputil.ReverseProxy {
	transport := base.Clone()
	if !r.VerifyTLS {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // opt-in per rule via secure: false
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if rewritten := r.RewritePath(pr.In.URL.Path); rewritten != pr.In.URL.Path {
				pr.Out.URL.Path = rewritten
				pr.Out.URL.RawPath = ""
			}
			pr.SetURL(r.Target)
			pr.SetXForwarded()
			if !r.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
			for k, v := range r.Headers {
				pr.Out.Header.Set(k, v)
			}
		},
		Transport:    otelhttp.NewTransport(transport),
		ErrorHandler: p.errorHandler(r),
		ErrorLog:     slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn),
	}
}

// Middleware sends requests matched by the table upstream and everything
// else to next.
func (p *Proxy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rule, ok := p.table.Match(req.URL.Path)
		if !ok {
			next.ServeHTTP(w, req)
			return
		}
		p.serve(rule, w, req)
	})
}

// ServeHTTP proxies matched requests and answers 404 for the rest.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.Middleware(http.NotFoundHandler()).ServeHTTP(w, req)
}

func (p *Proxy) serve(rule *Rule, w http.ResponseWriter, req *http.Request) {
	upgrade := IsUpgradeRequest(req)
	if upgrade && !rule.WS {
		p.logger.Warn("upgrade request on a route without ws enabled",
			slog.String("rule", rule.Context),
			slog.String("path", req.URL.Path),
			slog.String("upgrade", req.Header.Get("Upgrade")),
		)
		p.metrics.ProxyRequests.WithLabelValues(rule.Context, req.Method, strconv.Itoa(http.StatusBadRequest)).Inc()
		http.Error(w, fmt.Sprintf("devserver: websocket proxying is not enabled for %s", rule.Context), http.StatusBadRequest)
		return
	}

	ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
	start := time.Now()

	if upgrade {
		p.metrics.TunnelsOpened.WithLabelValues(rule.Context).Inc()
		active := p.metrics.TunnelsActive.WithLabelValues(rule.Context)
		active.Inc()
		defer active.Dec()
		p.logger.Debug("websocket tunnel opening",
			slog.String("rule", rule.Context),
			slog.String("path", req.URL.Path),
			slog.String("target", rule.Target.String()),
		)
	}

	// Blocks for the lifetime of an upgraded connection.
	p.proxies[rule].ServeHTTP(ww, req)

	status := ww.Status()
	if status == 0 && upgrade {
		// The 101 response is written on the hijacked connection.
		status = http.StatusSwitchingProtocols
	} else if status == 0 {
		status = http.StatusOK
	}
	p.metrics.ProxyRequests.WithLabelValues(rule.Context, req.Method, strconv.Itoa(status)).Inc()

	if upgrade {
		p.logger.Debug("websocket tunnel closed",
			slog.String("rule", rule.Context),
			slog.Duration("duration", time.Since(start)),
		)
		return
	}
	p.metrics.ProxyDuration.WithLabelValues(rule.Context).Observe(time.Since(start).Seconds())
}

func (p *Proxy) errorHandler(r *Rule) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, req *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			p.logger.Debug("client went away during proxy",
				slog.String("rule", r.Context),
				slog.String("path", req.URL.Path),
			)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		p.logger.Warn("proxy error",
			slog.String("rule", r.Context),
			slog.String("path", req.URL.Path),
			slog.String("target", r.Target.String()),
			slog.String("error", err.Error()),
		)
		http.Error(w, fmt.Sprintf("devserver: %s -> %s: %v", r.Context, r.Target, err), http.StatusBadGateway)
	}
}

// IsUpgradeRequest reports whether req asks to switch protocols, which is
// how browsers open WebSocket connections.
func IsUpgradeRequest(req *http.Request) bool {
	if req.Header.Get("Upgrade") == "" {
		return false
	}
	for _, v := range req.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}
