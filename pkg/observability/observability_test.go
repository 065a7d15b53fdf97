package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "gpw-core", cfg.ServiceName)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
	assert.False(t, cfg.Enabled())

	cfg.Endpoint = "localhost:4317"
	assert.True(t, cfg.Enabled())

	var none *Config
	assert.False(t, none.Enabled())
}

func TestNew_DisabledUsesGlobals(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NoError(t, p.Shutdown(context.Background()))
}

// testProvider binds a provider to in-memory SDK providers.
func testProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	p, err := bind(tp, mp, Nop().logger, "test")
	require.NoError(t, err)
	return p, spans, reader
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTrackOperation(t *testing.T) {
	p, spans, reader := testProvider(t)

	ctx, finish := p.TrackOperation(context.Background(), "registration.reconcile",
		ReconcileOperation("UPDATE", "tok-1", "AUTHORIZED")...)
	AddSpanEvent(ctx, "write.started", attribute.String("function", "insertOrUpdate"))
	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "callsession.handle_push")
	finish(errors.New("report failed"))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "registration.reconcile", ended[0].Name())
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "write.started", ended[0].Events()[0].Name)
	assert.Len(t, ended[1].Events(), 1, "recorded error")

	assert.Equal(t, int64(2), counterTotal(t, reader, "gpw.operations"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "gpw.operation.failures"))
}

func TestDomainCounters(t *testing.T) {
	p, _, reader := testProvider(t)
	ctx := context.Background()

	p.CountRegistrationAction(ctx, "CREATE")
	p.CountRegistrationAction(ctx, "NONE")
	p.CountCallOutcome(ctx, "FAILED", true)
	p.CountDecryptFailure(ctx, "UNKNOWN_CATEGORY")

	assert.Equal(t, int64(2), counterTotal(t, reader, "gpw.registration.actions"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "gpw.call.outcomes"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "gpw.notification.decrypt_failures"))
}

func TestAttributeHelpers(t *testing.T) {
	attrs := CallOperation("11111111-1111-1111-1111-111111111111", "UPDATED", false)
	require.Len(t, attrs, 3)
	assert.Equal(t, AttrCallState, attrs[1].Key)
	assert.Equal(t, "UPDATED", attrs[1].Value.AsString())

	fn := FunctionOperation("user-deleteNotificationToken", "europe-west1")
	assert.Equal(t, "europe-west1", fn[1].Value.AsString())
}
