package lock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	g, err := Acquire(context.Background(), path, true, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	// Reacquire after release must succeed immediately.
	g2, err := Acquire(context.Background(), path, true, time.Second)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	if err := g2.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

func TestAcquireTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	holder, err := Acquire(context.Background(), path, true, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer holder.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), path, true, 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout acquiring a held lock")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned before the timeout elapsed: %v", elapsed)
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	r1, err := Acquire(context.Background(), path, false, time.Second)
	if err != nil {
		t.Fatalf("first shared acquire failed: %v", err)
	}
	defer r1.Release()

	r2, err := Acquire(context.Background(), path, false, 250*time.Millisecond)
	if err != nil {
		t.Fatalf("second shared acquire failed: %v", err)
	}
	defer r2.Release()
}

func TestExclusiveBlocksShared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	w, err := Acquire(context.Background(), path, true, time.Second)
	if err != nil {
		t.Fatalf("exclusive acquire failed: %v", err)
	}
	defer w.Release()

	_, err = Acquire(context.Background(), path, false, 150*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout for shared acquire against exclusive holder, got %v", err)
	}
}

func TestReleaseNilGuard(t *testing.T) {
	var g *Guard
	if err := g.Release(); err != nil {
		t.Errorf("nil guard release returned error: %v", err)
	}
}
