package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	t.Run("empty without a span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("want empty correlation id, got %q", got)
		}
	})

	t.Run("is the hex trace id", func(t *testing.T) {
		tp, _ := testTracerProvider(t)
		ctx, span := tp.Tracer("captioning").Start(context.Background(), "chunk")
		defer span.End()

		cid := CorrelationID(ctx)
		if len(cid) != 32 {
			t.Fatalf("want 32 hex chars, got %d (%q)", len(cid), cid)
		}
		if strings.Trim(cid, "0123456789abcdef") != "" {
			t.Errorf("want lowercase hex, got %q", cid)
		}
	})

	t.Run("distinct per trace", func(t *testing.T) {
		tp, _ := testTracerProvider(t)
		tracer := tp.Tracer("captioning")

		seen := make(map[string]struct{}, 100)
		for range 100 {
			ctx, span := tracer.Start(context.Background(), "chunk")
			cid := CorrelationID(ctx)
			span.End()
			if _, dup := seen[cid]; dup {
				t.Fatalf("correlation id repeated: %s", cid)
			}
			seen[cid] = struct{}{}
		}
	})
}

func TestStartSpanRecordsNamedSpan(t *testing.T) {
	tp, exp := testTracerProvider(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "transcribe-chunk")
	if CorrelationID(ctx) == "" {
		t.Error("want a live trace id inside the span")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans exported")
	}
	if spans[0].Name != "transcribe-chunk" {
		t.Errorf("want span name transcribe-chunk, got %q", spans[0].Name)
	}
}

func TestLoggerCarriesTraceFields(t *testing.T) {
	tp, _ := testTracerProvider(t)
	buf := captureLog(t)

	ctx, span := tp.Tracer("captioning").Start(context.Background(), "chunk")
	defer span.End()

	Logger(ctx).Info("chunk stored")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") {
		t.Errorf("want trace_id in log line, got: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("want span_id in log line, got: %s", out)
	}
}

func TestLoggerWithoutSpanOmitsTraceFields(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("chunk stored")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("want no trace_id outside a span, got: %s", buf.String())
	}
}

func TestTracerIsUsable(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer returned nil")
	}
}
