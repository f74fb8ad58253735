package postgres

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/sentinel/internal/sentinel/pgstore.(*Store).Commit", "(*Store).Commit"},
		{"already short", "(*Store).Commit", "Commit"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Get", "(*Store).Get"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &QueryStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	count, total, errs := s.Snapshot()
	if count != 3 {
		t.Errorf("QueryCount = %d, want 3", count)
	}
	if total != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestQueryStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewQueryStatsContext(context.Background())
	got, ok := QueryStatsFromContext(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got == nil {
		t.Fatal("expected non-nil stats")
	}

	// Verify it's the same pointer
	got.AddQuery(time.Millisecond, nil)
	got2, _ := QueryStatsFromContext(ctx)
	if n, _, _ := got2.Snapshot(); n != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", n)
	}
}

func TestQueryStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	_, ok := QueryStatsFromContext(context.Background())
	if ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithStage_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithStage(context.Background(), "persisting")
	got := stageFromContext(ctx)
	if got != "persisting" {
		t.Errorf("stageFromContext = %q, want %q", got, "persisting")
	}
}

func TestWithStage_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithStage(context.Background(), "")
	got := stageFromContext(ctx)
	if got != "" {
		t.Errorf("stageFromContext = %q, want empty", got)
	}
}

func TestSummarizeArgs(t *testing.T) {
	t.Parallel()

	got := summarizeArgs([]any{"ivo://x", []byte("<VOEvent/>"), 3, []byte{}})
	want := []any{"ivo://x", "<10 bytes>", 3, "<0 bytes>"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSetQueryObserver(t *testing.T) {
	t.Parallel()

	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "persisting", "pipeline", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
