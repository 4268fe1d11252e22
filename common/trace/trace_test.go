package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/glitchy/common/trace"
)

func TestGenerateID_UniqueAndPrefixed(t *testing.T) {
	a, b := trace.GenerateID(), trace.GenerateID()
	if a == b {
		t.Fatalf("expected distinct IDs, both %q", a)
	}
	if !strings.HasPrefix(a, "t_") {
		t.Errorf("ID %q should start with t_", a)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := trace.FromContext(ctx); got != "" {
		t.Errorf("empty context: got %q", got)
	}
	ctx = trace.WithTraceID(ctx, "t_123")
	if got := trace.FromContext(ctx); got != "t_123" {
		t.Errorf("got %q, want t_123", got)
	}
}
