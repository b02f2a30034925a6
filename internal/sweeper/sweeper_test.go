package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/sagecodex/internal/store"
)

func TestSweepDeactivatesStaleSessions(t *testing.T) {
	dir := t.TempDir()
	sessions := store.NewSessionStore(dir)
	ctx := context.Background()

	stale, err := sessions.Create(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}

	// Let the first session age past the TTL, then create a fresh one.
	time.Sleep(60 * time.Millisecond)
	fresh, err := sessions.Create(ctx, "user2")
	if err != nil {
		t.Fatal(err)
	}

	s := New(sessions, 50*time.Millisecond, "@hourly", zerolog.Nop())
	s.Sweep(ctx)

	got, err := sessions.Get(ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("expected stale session deactivated")
	}

	got, err = sessions.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Active {
		t.Error("expected fresh session untouched")
	}
}

func TestSweepIgnoresInactiveSessions(t *testing.T) {
	dir := t.TempDir()
	sessions := store.NewSessionStore(dir)
	ctx := context.Background()

	session, err := sessions.Create(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if err := sessions.Deactivate(ctx, session.ID); err != nil {
		t.Fatal(err)
	}

	// Already-inactive sessions are not re-processed; Sweep only logs
	// sessions it actually deactivates.
	s := New(sessions, 0, "@hourly", zerolog.Nop())
	s.Sweep(ctx)

	got, err := sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("session must remain inactive")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sessions := store.NewSessionStore(t.TempDir())
	s := New(sessions, time.Hour, "not a schedule", zerolog.Nop())
	if err := s.Start(); err == nil {
		s.Stop()
		t.Error("expected error for invalid cron expression")
	}
}
