package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mentorlink/session-server/internal/model"
)

const (
	DefaultTickInterval = time.Second
	updateBufferSize    = 16
)

// Subscription is a handle on one watched session. Results are delivered on
// Updates until Done is closed.
type Subscription struct {
	watcher *Watcher

	mu       sync.RWMutex
	snapshot Snapshot

	updates   chan Result
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.ID
}

func (s *Subscription) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// SetStatus replaces the persisted status the subscription derives from.
func (s *Subscription) SetStatus(status model.SessionStatus) {
	s.mu.Lock()
	s.snapshot.Status = status
	s.mu.Unlock()
}

func (s *Subscription) Updates() <-chan Result { return s.updates }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops delivery and releases the subscription.
func (s *Subscription) Close() {
	s.watcher.Unwatch(s)
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Watcher re-derives every watched session once per interval on a single
// ticker, delivers the results to subscribers and reports detected expiry
// to the trigger.
type Watcher struct {
	clock    Clock
	interval time.Duration
	trigger  *ExpiryTrigger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func NewWatcher(clock Clock, interval time.Duration, trigger *ExpiryTrigger) *Watcher {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	w := &Watcher{
		clock:    clock,
		interval: interval,
		trigger:  trigger,
		subs:     make(map[*Subscription]struct{}),
		done:     make(chan struct{}),
	}
	if trigger != nil {
		trigger.OnExpired(func(sessionID string) {
			w.SetStatus(sessionID, model.SessionStatusExpired)
		})
	}
	return w
}

func (w *Watcher) Start() {
	go w.run()
	log.Info().Dur("interval", w.interval).Msg("session watcher started")
}

// Stop halts the ticker and closes every subscription.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		for sub := range w.subs {
			sub.close()
		}
		w.subs = make(map[*Subscription]struct{})
		w.mu.Unlock()

		log.Info().Msg("session watcher stopped")
	})
}

// Watch starts delivering results for snap. The first result is delivered
// immediately. The subscription is released when ctx is cancelled or Close
// is called.
func (w *Watcher) Watch(ctx context.Context, snap Snapshot) *Subscription {
	sub := &Subscription{
		watcher:  w,
		snapshot: snap,
		updates:  make(chan Result, updateBufferSize),
		done:     make(chan struct{}),
	}

	w.mu.Lock()
	w.subs[sub] = struct{}{}
	count := len(w.subs)
	w.mu.Unlock()

	log.Debug().
		Str("sessionId", snap.ID).
		Int("watchCount", count).
		Msg("session watch added")

	w.deliver(sub, w.clock.Now())

	if ctxDone := ctx.Done(); ctxDone != nil {
		go func() {
			select {
			case <-ctxDone:
				w.Unwatch(sub)
			case <-sub.done:
			}
		}()
	}

	return sub
}

func (w *Watcher) Unwatch(sub *Subscription) {
	w.mu.Lock()
	_, ok := w.subs[sub]
	delete(w.subs, sub)
	count := len(w.subs)
	w.mu.Unlock()

	sub.close()

	if ok {
		log.Debug().
			Str("sessionId", sub.SessionID()).
			Int("watchCount", count).
			Msg("session watch removed")
	}
}

// SetStatus updates the persisted status of every subscription watching
// sessionID and returns how many were updated.
func (w *Watcher) SetStatus(sessionID string, status model.SessionStatus) int {
	n := 0
	for _, sub := range w.subscriptions() {
		if sub.SessionID() == sessionID {
			sub.SetStatus(status)
			n++
		}
	}
	return n
}

func (w *Watcher) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subs)
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watcher) tick() {
	now := w.clock.Now()
	for _, sub := range w.subscriptions() {
		w.deliver(sub, now)
	}
}

func (w *Watcher) deliver(sub *Subscription, now time.Time) {
	snap := sub.Snapshot()
	result := Derive(snap, now)

	if w.trigger != nil {
		w.trigger.Observe(snap.ID, result.State == StateExpired, snap.Status)
	}

	select {
	case <-sub.done:
	case sub.updates <- result:
	default:
		log.Warn().
			Str("sessionId", snap.ID).
			Msg("watch update buffer full, dropping result")
	}
}

func (w *Watcher) subscriptions() []*Subscription {
	w.mu.RLock()
	defer w.mu.RUnlock()
	subs := make([]*Subscription, 0, len(w.subs))
	for sub := range w.subs {
		subs = append(subs, sub)
	}
	return subs
}
