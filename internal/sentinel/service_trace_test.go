package sentinel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/strategy"
	"github.com/linnemanlabs/sentinel/internal/target"
)

func TestProcess_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	h := newHarness(t, Config{BuildAttempts: 2, BuildBackoff: time.Millisecond})
	h.builder.build = func(_ context.Context, _ string, n *notice.Notice, _ *strategy.Strategy) ([]*target.Target, error) {
		return nil, &target.BuildError{NoticeID: n.ID, Err: errors.New("archive unavailable")}
	}

	h.submit(t, fixture(t, "swift_bat.xml"))
	h.drain(t)

	counts := make(map[string]int)
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
	}
	if counts["notice.process"] != 1 {
		t.Errorf("notice.process spans = %d, want 1", counts["notice.process"])
	}
	if counts["target.build"] != 2 {
		t.Errorf("target.build spans = %d, want 2", counts["target.build"])
	}

	for _, s := range exporter.GetSpans() {
		if s.Name != "notice.process" {
			continue
		}
		if s.Status.Code != codes.Error {
			t.Errorf("notice.process status = %v, want Error", s.Status.Code)
		}
		attrs := make(map[string]string)
		for _, kv := range s.Attributes {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs["sentinel.outcome"] != string(OutcomeBuildFailed) {
			t.Errorf("sentinel.outcome = %q, want %q", attrs["sentinel.outcome"], OutcomeBuildFailed)
		}
		if attrs["sentinel.origin"] != "test" {
			t.Errorf("sentinel.origin = %q, want test", attrs["sentinel.origin"])
		}
	}
}
