package logger

import (
	"context"
	"testing"
)

func TestWithInvocationID_And_InvocationIDFromContext(t *testing.T) {
	ctx := context.Background()
	id := "inv-12345"

	// Initially empty
	if got := InvocationIDFromContext(ctx); got != "" {
		t.Errorf("InvocationIDFromContext() on empty ctx = %v, want empty", got)
	}

	// After setting
	ctx = WithInvocationID(ctx, id)
	if got := InvocationIDFromContext(ctx); got != id {
		t.Errorf("InvocationIDFromContext() = %v, want %v", got, id)
	}
}

func TestFromContext_WithInvocationID(t *testing.T) {
	base := New("info")
	ctx := context.Background()

	// Without invocation ID - should return base logger (not nil)
	logger := FromContext(ctx, base)
	if logger == nil {
		t.Error("FromContext() returned nil")
	}

	// With invocation ID - should return logger with invocation_id attached
	ctx = WithInvocationID(ctx, "inv-67890")
	loggerWithID := FromContext(ctx, base)
	if loggerWithID == nil {
		t.Error("FromContext() with invocation ID returned nil")
	}
}

func TestNew_LevelParsing(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		if logger := New(level); logger == nil {
			t.Errorf("New(%q) returned nil", level)
		}
	}
}
