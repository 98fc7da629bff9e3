package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mentorlink/session-server/internal/lifecycle"
	"github.com/mentorlink/session-server/internal/model"
)

const (
	sweepTimeout   = 30 * time.Second
	sweepBatchSize = 500
	sweepMaxPages  = 20
)

// UnsettledFinder is the part of repository.SessionRepository the sweep reads.
type UnsettledFinder interface {
	FindUnsettled(ctx context.Context, onOrBefore string, limit, offset int) ([]model.Session, error)
}

// ExpiryObserver is satisfied by lifecycle.ExpiryTrigger.
type ExpiryObserver interface {
	Observe(sessionID string, detectedExpired bool, persisted model.SessionStatus) bool
}

// ExpirySweepJob periodically derives the state of every pending or confirmed
// session that could have ended and hands expired ones to the trigger, so
// sessions nobody is watching still get their status persisted.
type ExpirySweepJob struct {
	sessions UnsettledFinder
	trigger  ExpiryObserver
	clock    lifecycle.Clock
	loc      *time.Location
	interval time.Duration
	done     chan struct{}
}

func NewExpirySweepJob(
	sessions UnsettledFinder,
	trigger ExpiryObserver,
	clock lifecycle.Clock,
	loc *time.Location,
	interval time.Duration,
) *ExpirySweepJob {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ExpirySweepJob{
		sessions: sessions,
		trigger:  trigger,
		clock:    clock,
		loc:      loc,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *ExpirySweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("expiry sweep started")
}

func (j *ExpirySweepJob) Stop() {
	close(j.done)
	log.Info().Msg("expiry sweep stopped")
}

func (j *ExpirySweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *ExpirySweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if n, err := j.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("failed to sweep unsettled sessions")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("expiry requested for ended sessions")
	}
}

// Sweep runs one pass and returns how many expiry requests were started.
// Pages are read until a short page, so rows that never settle (an
// unreadable schedule) cannot hold back the sessions behind them.
func (j *ExpirySweepJob) Sweep(ctx context.Context) (int, error) {
	now := j.clock.Now()

	// session dates are local to each session's zone, which can be a day
	// ahead of UTC
	cutoff := now.UTC().AddDate(0, 0, 1).Format(lifecycle.DateLayout)

	started := 0
	for page := 0; page < sweepMaxPages; page++ {
		sessions, err := j.sessions.FindUnsettled(ctx, cutoff, sweepBatchSize, page*sweepBatchSize)
		if err != nil {
			return started, err
		}

		for i := range sessions {
			snap := lifecycle.SnapshotOf(&sessions[i], j.loc)
			result := lifecycle.Derive(snap, now)
			if result.State == lifecycle.StateParseError {
				log.Warn().
					Str("sessionId", snap.ID).
					Str("message", result.Message).
					Msg("skipping session with unreadable schedule")
				continue
			}
			if j.trigger.Observe(snap.ID, result.State == lifecycle.StateExpired, snap.Status) {
				started++
			}
		}

		if len(sessions) < sweepBatchSize {
			return started, nil
		}
	}

	log.Warn().
		Int("pages", sweepMaxPages).
		Msg("expiry sweep stopped at page limit")
	return started, nil
}
