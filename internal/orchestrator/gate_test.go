package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/sagecodex/internal/types"
)

func TestGateSerializesPerSession(t *testing.T) {
	g := NewGate(4)
	id := types.NewSessionID()

	release, err := g.Acquire(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(context.Background(), id); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	// A different session is unaffected.
	other, err := g.Acquire(context.Background(), types.NewSessionID())
	if err != nil {
		t.Fatal(err)
	}
	other()

	release()
	release, err = g.Acquire(context.Background(), id)
	if err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
	release()
}

func TestGateReleaseClearsSessionEntry(t *testing.T) {
	g := NewGate(4)

	for i := 0; i < 50; i++ {
		release, err := g.Acquire(context.Background(), types.NewSessionID())
		if err != nil {
			t.Fatal(err)
		}
		release()
	}

	g.mu.Lock()
	n := len(g.busy)
	g.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no lane entries after release, got %d", n)
	}
}

func TestGateGlobalCap(t *testing.T) {
	g := NewGate(1)

	release, err := g.Acquire(context.Background(), types.NewSessionID())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	blockedID := types.NewSessionID()
	if _, err := g.Acquire(ctx, blockedID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline waiting on global cap, got %v", err)
	}

	// A failed global acquire must not leave the session marked busy.
	release()
	release, err = g.Acquire(context.Background(), blockedID)
	if err != nil {
		t.Fatalf("expected acquire after slot freed, got %v", err)
	}
	release()
}
