package manager

import (
	"sync"
	"time"

	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/pkg/metrics"
)

// scheduler owns the debounce state for one session: its timer handle, the
// pending snapshot, and the time of the last actual remote sync. Keeping
// this per-session (rather than one process-global timer) stops sessions
// from contending for a shared throttle.
type scheduler struct {
	mu       sync.Mutex
	timer    *time.Timer
	lastSync time.Time

	// pending snapshot, replaced (not stacked) by each update
	session  *model.Session
	messages []model.ChatMessage
}

// arm replaces the pending snapshot and resets the timer. Repeated calls
// within the quiet period coalesce into a single firing carrying the state
// from the last call.
func (s *scheduler) arm(delay time.Duration, session *model.Session, messages []model.ChatMessage, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session
	s.messages = messages
	if s.timer != nil {
		s.timer.Stop()
	} else {
		metrics.DebouncePending.Inc()
	}
	s.timer = time.AfterFunc(delay, fire)
}

// take returns the pending snapshot and clears the timer slot, or nil when a
// later cancel already claimed it.
func (s *scheduler) take() (*model.Session, []model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		return nil, nil
	}
	s.timer = nil
	metrics.DebouncePending.Dec()
	session, messages := s.session, s.messages
	s.session, s.messages = nil, nil
	return session, messages
}

// postpone re-arms the timer without touching the snapshot, used when the
// minimum sync interval has not yet elapsed.
func (s *scheduler) postpone(delay time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		// A concurrent End claimed the snapshot; nothing left to push.
		return
	}
	s.timer.Stop()
	s.timer = time.AfterFunc(delay, fire)
}

// cancel stops any pending timer and discards the snapshot.
func (s *scheduler) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		metrics.DebouncePending.Dec()
	}
	s.session, s.messages = nil, nil
}

// sinceLastSync reports the elapsed time since the last successful or
// attempted remote sync.
func (s *scheduler) sinceLastSync(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastSync.IsZero() {
		return 1<<62 - 1
	}
	return now.Sub(s.lastSync)
}

// markSynced records the time of an actual remote sync.
func (s *scheduler) markSynced(now time.Time) {
	s.mu.Lock()
	s.lastSync = now
	s.mu.Unlock()
}
