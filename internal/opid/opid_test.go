package opid

import (
	"context"
	"testing"
)

func TestNewContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background())
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext: no operation ID")
	}
	if got != id {
		t.Fatalf("FromContext = %d, want %d", got, id)
	}
}

func TestFromContextMissing(t *testing.T) {
	if id, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected operation ID %d on bare context", id)
	}
}
