package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	restoreGlobals(t)

	tel, err := Setup(context.Background(), Options{Version: "test", Logger: slog.Default()})
	require.NoError(t, err)
	assert.Nil(t, tel.LogHandler)

	_, span := Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetup_BridgesInstrumentMetricsToPrometheus(t *testing.T) {
	restoreGlobals(t)

	reg := prometheus.NewRegistry()
	tel, err := Setup(context.Background(), Options{Version: "test", Registerer: reg})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background()) //nolint:errcheck

	_, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	require.True(t, ok)

	h := otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), "test")
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "http_server_") {
			found = true
			break
		}
	}
	assert.True(t, found, "expected otelhttp server metrics in the registry")
}

func TestSetup_WithEndpointInstallsSDKProviders(t *testing.T) {
	restoreGlobals(t)

	// gRPC connections are established lazily, so no collector is needed.
	tel, err := Setup(context.Background(), Options{Endpoint: "127.0.0.1:4317", Version: "test"})
	require.NoError(t, err)
	assert.NotNil(t, tel.LogHandler)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
	_, ok = otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, ok)

	_, span := Tracer().Start(context.Background(), "export")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
}
