package scontext

import (
	"context"
	"testing"
)

func TestCreateAndCancel(t *testing.T) {
	sc := New(context.Background())

	if sc.Context() != context.Background() {
		t.Errorf("fresh instance should expose the parent context")
	}

	ctx, err := sc.CreateContext()
	if err != nil {
		t.Fatalf("CreateContext failed: %v", err)
	}
	if sc.Context() != ctx {
		t.Errorf("Context() should return the created context")
	}
	if _, err := sc.CreateContext(); err != ErrRunning {
		t.Errorf("second CreateContext should fail with ErrRunning, got %v", err)
	}

	if err := sc.CancelContext(); err != nil {
		t.Fatalf("CancelContext failed: %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Errorf("created context should be cancelled")
	}
	if err := sc.CancelContext(); err != ErrStopped {
		t.Errorf("second CancelContext should fail with ErrStopped, got %v", err)
	}
}

func TestParentStopped(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	sc := New(parent)
	cancel()

	if _, err := sc.CreateContext(); err != ErrParentStopped {
		t.Errorf("expected ErrParentStopped, got %v", err)
	}
}
