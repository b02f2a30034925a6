package orchestrator

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/sagecodex/internal/types"
)

// ErrSessionBusy is returned when a turn is already in flight for the
// session. Turns within a session are strictly sequential.
var ErrSessionBusy = errors.New("a turn is already in progress for this session")

// Gate serializes turns per session while a global semaphore caps the
// total number of concurrent turns across all sessions. Because a busy
// session is rejected rather than queued, the per-session lane is just a
// membership set; entries exist only while a turn is in flight.
type Gate struct {
	global *semaphore.Weighted
	mu     sync.Mutex
	busy   map[types.SessionID]struct{}
}

// NewGate creates a Gate allowing up to maxConcurrent simultaneous turns.
func NewGate(maxConcurrent int64) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Gate{
		global: semaphore.NewWeighted(maxConcurrent),
		busy:   make(map[types.SessionID]struct{}),
	}
}

// Acquire claims the session lane and a global slot, returning a release
// function. A busy session fails immediately with ErrSessionBusy rather
// than queueing; the client is expected to wait for the previous turn's
// terminal event before sending the next.
func (g *Gate) Acquire(ctx context.Context, id types.SessionID) (func(), error) {
	g.mu.Lock()
	if _, inFlight := g.busy[id]; inFlight {
		g.mu.Unlock()
		return nil, ErrSessionBusy
	}
	g.busy[id] = struct{}{}
	g.mu.Unlock()

	release := func() {
		g.mu.Lock()
		delete(g.busy, id)
		g.mu.Unlock()
	}

	if err := g.global.Acquire(ctx, 1); err != nil {
		release()
		return nil, err
	}
	return func() {
		g.global.Release(1)
		release()
	}, nil
}
