package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/mentorlink/session-server/internal/errors"
	"github.com/mentorlink/session-server/internal/model"
)

const (
	DefaultRetryBase      = 2 * time.Second
	DefaultRetryMax       = time.Minute
	DefaultExpiryTimeout  = 10 * time.Second
	settledEntryRetention = 10 * time.Minute
	pruneInterval         = time.Minute
)

// Expirer persists the expired status of a session.
type Expirer interface {
	Expire(ctx context.Context, sessionID string) error
}

type expiryEntry struct {
	inFlight  bool
	attempts  int
	retryAt   time.Time
	settled   bool
	settledAt time.Time
}

// ExpiryTrigger turns locally detected expiry into at most one in-flight
// expire request per session. Failed requests are retried on a later
// Observe after an exponential backoff.
type ExpiryTrigger struct {
	expirer   Expirer
	clock     Clock
	retryBase time.Duration
	retryMax  time.Duration
	timeout   time.Duration

	mu        sync.Mutex
	entries   map[string]*expiryEntry
	listeners []func(sessionID string)
	lastPrune time.Time

	wg sync.WaitGroup
}

type ExpiryOption func(*ExpiryTrigger)

func WithRetryBackoff(base, max time.Duration) ExpiryOption {
	return func(t *ExpiryTrigger) {
		if base > 0 {
			t.retryBase = base
		}
		if max >= base && max > 0 {
			t.retryMax = max
		}
	}
}

func WithRequestTimeout(timeout time.Duration) ExpiryOption {
	return func(t *ExpiryTrigger) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

func NewExpiryTrigger(expirer Expirer, clock Clock, opts ...ExpiryOption) *ExpiryTrigger {
	if clock == nil {
		clock = SystemClock{}
	}
	t := &ExpiryTrigger{
		expirer:   expirer,
		clock:     clock,
		retryBase: DefaultRetryBase,
		retryMax:  DefaultRetryMax,
		timeout:   DefaultExpiryTimeout,
		entries:   make(map[string]*expiryEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnExpired registers fn to be called after a session's expiry has been
// acknowledged by the store.
func (t *ExpiryTrigger) OnExpired(fn func(sessionID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Observe reports one evaluation of a session. It issues an expire request
// and returns true only when the session was detected as expired, its
// persisted status is not terminal, no request for it is in flight, and any
// retry backoff has elapsed.
func (t *ExpiryTrigger) Observe(sessionID string, detectedExpired bool, persisted model.SessionStatus) bool {
	if sessionID == "" || !detectedExpired {
		return false
	}

	now := t.clock.Now()

	t.mu.Lock()
	t.pruneLocked(now)

	e, ok := t.entries[sessionID]
	if persisted.Terminal() {
		if ok && !e.inFlight {
			delete(t.entries, sessionID)
		}
		t.mu.Unlock()
		return false
	}
	if !ok {
		e = &expiryEntry{}
		t.entries[sessionID] = e
	}
	if e.inFlight || e.settled || now.Before(e.retryAt) {
		t.mu.Unlock()
		return false
	}
	e.inFlight = true
	e.attempts++
	attempt := e.attempts
	t.mu.Unlock()

	t.wg.Add(1)
	go t.issue(sessionID, attempt)
	return true
}

// InFlight reports whether an expire request for sessionID is outstanding.
func (t *ExpiryTrigger) InFlight(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[sessionID]
	return ok && e.inFlight
}

// Wait blocks until every issued request has resolved.
func (t *ExpiryTrigger) Wait() {
	t.wg.Wait()
}

func (t *ExpiryTrigger) issue(sessionID string, attempt int) {
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	err := t.expirer.Expire(ctx, sessionID)
	cancel()

	now := t.clock.Now()

	t.mu.Lock()
	e, ok := t.entries[sessionID]
	if !ok {
		e = &expiryEntry{attempts: attempt}
		t.entries[sessionID] = e
	}
	e.inFlight = false

	if err != nil && apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition) {
		// Settled some other way (cancelled or completed) before we got there.
		e.settled, e.settledAt = true, now
		t.mu.Unlock()
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("session already settled, expiry skipped")
		return
	}

	if err != nil {
		delay := t.backoff(attempt)
		e.retryAt = now.Add(delay)
		t.mu.Unlock()
		log.Warn().
			Err(apperrors.ExpiryUpdateFailed(sessionID, err)).
			Str("sessionId", sessionID).
			Int("attempt", attempt).
			Dur("retryIn", delay).
			Msg("failed to mark session as expired")
		return
	}

	e.settled, e.settledAt = true, now
	listeners := make([]func(string), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	log.Info().Str("sessionId", sessionID).Int("attempt", attempt).Msg("session marked as expired")

	for _, fn := range listeners {
		fn(sessionID)
	}
}

func (t *ExpiryTrigger) backoff(attempt int) time.Duration {
	delay := t.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= t.retryMax {
			return t.retryMax
		}
	}
	return delay
}

func (t *ExpiryTrigger) pruneLocked(now time.Time) {
	if now.Sub(t.lastPrune) < pruneInterval {
		return
	}
	t.lastPrune = now
	for id, e := range t.entries {
		if e.settled && now.Sub(e.settledAt) > settledEntryRetention {
			delete(t.entries, id)
		}
	}
}
