// Package sweeper deactivates sessions that have been idle past their
// TTL, on a cron schedule.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/user/sagecodex/internal/types"
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper periodically deactivates stale sessions.
type Sweeper struct {
	sessions types.SessionStore
	ttl      time.Duration
	schedule string
	cron     *cron.Cron
	log      zerolog.Logger
}

// New creates a Sweeper. ttl is how long a session may go without a turn
// before it is deactivated; schedule is a cron expression.
func New(sessions types.SessionStore, ttl time.Duration, schedule string, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		ttl:      ttl,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cronParser)),
		log:      log,
	}
}

// Start registers the sweep job and starts the cron ticker.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Dur("ttl", s.ttl).Msg("session sweeper started")
	return nil
}

// Stop stops the cron ticker.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// Sweep deactivates every active session whose last activity is older
// than the TTL. Failures on individual sessions are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep: list sessions failed")
		return
	}

	cutoff := time.Now().Add(-s.ttl)
	swept := 0
	for _, session := range sessions {
		if !session.Active || session.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.sessions.Deactivate(ctx, session.ID); err != nil {
			s.log.Error().Err(err).Str("session_id", string(session.ID)).Msg("sweep: deactivate failed")
			continue
		}
		swept++
		s.log.Info().
			Str("session_id", string(session.ID)).
			Time("last_active", session.UpdatedAt).
			Msg("deactivated stale session")
	}
	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("sweep complete")
	}
}
