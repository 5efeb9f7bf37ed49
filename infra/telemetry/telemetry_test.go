package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testResource() *resource.Resource {
	return resource.NewSchemaless(attribute.String("service.name", "kook-mirror-test"))
}

func TestStdoutExportsSpansAndRecords(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(context.Background(), Options{Exporter: ExporterStdout, Writer: &buf}, testResource())
	require.NoError(t, err)
	require.NotNil(t, p.Logs)

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "reconcile")
	span.End()

	logger := slog.New(otelslog.NewHandler("telemetry_test", otelslog.WithLoggerProvider(p.Logs)))
	logger.Info("RECONCILIATION_CYCLE_COMPLETED", "guilds", 2)

	require.NoError(t, p.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"reconcile"`)
	assert.Contains(t, out, "RECONCILIATION_CYCLE_COMPLETED")
	assert.Contains(t, out, "kook-mirror-test")
}

func TestNoneKeepsTracingLocal(t *testing.T) {
	p, err := New(context.Background(), Options{Exporter: ExporterNone}, testResource())
	require.NoError(t, err)

	assert.Nil(t, p.Logs)
	assert.NotNil(t, p.Traces)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestUnknownExporterRejected(t *testing.T) {
	_, err := New(context.Background(), Options{Exporter: "zipkin"}, testResource())
	assert.ErrorContains(t, err, `unknown otel exporter "zipkin"`)
}
