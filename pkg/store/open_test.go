package store

import (
	"context"
	"testing"
)

func TestOpenMemoryAndUnknown(t *testing.T) {
	ctx := context.Background()
	st, closeFn, err := Open(ctx, OpenConfig{Driver: "Memory"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := st.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", st)
	}
	if err := closeFn(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := Open(ctx, OpenConfig{Driver: "sqlite"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
