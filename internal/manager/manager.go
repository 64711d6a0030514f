// Package manager orchestrates local-first session persistence: synchronous
// local writes, debounced remote pushes, load-time conflict resolution, and
// end-of-session flushing. It is the single entry point the UI layer uses.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/codec"
	"github.com/chatabubble/session-vault/internal/events"
	"github.com/chatabubble/session-vault/internal/keystore"
	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/internal/remote"
	"github.com/chatabubble/session-vault/internal/repository"
	"github.com/chatabubble/session-vault/pkg/logger"
)

// Syncer is the remote sync boundary. Satisfied by *remote.Adapter.
type Syncer interface {
	Push(ctx context.Context, session *model.Session, messages []model.ChatMessage) remote.Result
	Fetch(ctx context.Context, sessionID string) (*model.RemoteSession, error)
}

// Config holds the manager's throttling parameters.
type Config struct {
	// Debounce is the quiet period after the last Update before a sync fires.
	Debounce time.Duration
	// MinInterval bounds how often actual remote syncs may happen.
	MinInterval time.Duration
}

// Manager coordinates the repository, key store, codec, and sync adapter.
type Manager struct {
	repo      *repository.SessionRepository
	keys      *keystore.Store
	codec     *codec.Codec
	syncer    Syncer
	publisher *events.Publisher
	cfg       Config
	logger    *logger.Logger

	mu         sync.Mutex
	schedulers map[string]*scheduler
}

// New creates a session manager. publisher may be nil.
func New(
	repo *repository.SessionRepository,
	keys *keystore.Store,
	cdc *codec.Codec,
	syncer Syncer,
	publisher *events.Publisher,
	cfg Config,
	log *logger.Logger,
) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	return &Manager{
		repo:       repo,
		keys:       keys,
		codec:      cdc,
		syncer:     syncer,
		publisher:  publisher,
		cfg:        cfg,
		logger:     log,
		schedulers: make(map[string]*scheduler),
	}
}

// Update persists the session locally and arms a debounced remote sync.
// Local persistence completes (or fails) before Update returns: the device
// never loses a message the UI believes was saved. Remote sync failures are
// invisible here; they self-heal on the next cycle.
func (m *Manager) Update(ctx context.Context, session *model.Session, messages []model.ChatMessage) error {
	// A new outgoing message while paused resumes the session.
	if session.Status == model.StatusSaved && lastSenderIsUser(messages) {
		if err := session.SetStatus(model.StatusActive); err != nil {
			return err
		}
	}
	session.Touch()

	if err := m.repo.SaveSession(ctx, session, messages); err != nil {
		return fmt.Errorf("local save failed: %w", err)
	}
	m.publisher.Publish(ctx, events.EventSaved, session)

	m.schedule(session, messages)
	return nil
}

// End cancels any pending debounce timer for the session and performs an
// immediate local save and remote sync. Ending a session must not be lost to
// a timer that never fires.
func (m *Manager) End(ctx context.Context, session *model.Session, messages []model.ChatMessage, markCompleted bool) error {
	sch := m.schedulerFor(session.ID)
	sch.cancel()

	if markCompleted {
		if err := session.SetStatus(model.StatusCompleted); err != nil {
			// Completed is terminal; ending an already-completed session is
			// a harmless no-op, anything else is logged and kept as-is.
			m.logger.Warn("cannot mark session completed",
				zap.String("session_id", session.ID),
				zap.String("status", string(session.Status)),
			)
		}
	} else if session.Status == model.StatusActive {
		if err := session.SetStatus(model.StatusSaved); err != nil {
			return err
		}
	}
	session.Touch()

	if err := m.repo.SaveSession(ctx, session, messages); err != nil {
		return fmt.Errorf("local save failed: %w", err)
	}
	if session.Status == model.StatusCompleted {
		m.publisher.Publish(ctx, events.EventCompleted, session)
	} else {
		m.publisher.Publish(ctx, events.EventSaved, session)
	}

	res := m.syncer.Push(ctx, session, messages)
	sch.markSynced(time.Now())
	m.logSyncResult(session.ID, res)
	if res.Outcome == remote.OutcomeSuccess {
		m.publisher.Publish(ctx, events.EventSynced, session)
	}
	return nil
}

// Load reads the local copy first, then reconciles against the remote copy
// when one is fetchable: strictly newer wins, ties keep the already-loaded
// local copy. A newer local copy is not pushed here; the next Update or End
// carries it out.
func (m *Manager) Load(ctx context.Context, id, userID string) (*model.Session, []model.ChatMessage, error) {
	local, err := m.repo.LoadSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var localMessages []model.ChatMessage
	if local != nil {
		if localMessages, err = m.repo.LoadHistory(ctx, id); err != nil {
			return nil, nil, err
		}
	}

	row, err := m.syncer.Fetch(ctx, id)
	if err != nil {
		// Remote trouble never breaks the offline fast path.
		m.logger.Warn("remote fetch failed, serving local copy",
			zap.String("session_id", id), zap.Error(err))
		return local, localMessages, nil
	}
	if row == nil || row.UserID != userID {
		return local, localMessages, nil
	}

	remoteUpdated := model.ISOToMillis(row.UpdatedAt)
	if local != nil && local.LastUpdated >= remoteUpdated {
		return local, localMessages, nil
	}

	// Remote copy is strictly newer: overwrite the local cache and messages.
	session, messages := m.sessionFromRow(ctx, row, local)
	if err := m.repo.SaveSession(ctx, session, messages); err != nil {
		m.logger.Warn("failed to cache remote copy locally",
			zap.String("session_id", id), zap.Error(err))
		if local != nil {
			return local, localMessages, nil
		}
		return nil, nil, err
	}
	return session, messages, nil
}

// Cleanup removes the user's key material and every locally held session and
// history. Used on sign-out and account deletion.
func (m *Manager) Cleanup(ctx context.Context, userID string) error {
	sessions, err := m.repo.ListUserSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		m.schedulerFor(s.ID).cancel()
		if err := m.repo.DeleteSession(ctx, s.ID); err != nil {
			m.logger.Warn("cleanup failed to delete session",
				zap.String("session_id", s.ID), zap.Error(err))
		}
		m.publisher.Publish(ctx, events.EventCleanup, s)
	}
	if err := m.keys.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to remove user key: %w", err)
	}
	m.logger.Info("user data cleaned up",
		zap.String("user_id", userID),
		zap.Int("sessions_removed", len(sessions)),
	)
	return nil
}

// RotateKey derives a new key for the user, decrypts any locally cached
// ciphertext under the old key, and immediately re-pushes every session so
// the remote store holds data encrypted under the new key only.
func (m *Manager) RotateKey(ctx context.Context, userID, identifier string, kind keystore.AuthKind) error {
	oldKey, err := m.keys.CurrentKey(ctx, userID)
	if err != nil && !errors.Is(err, keystore.ErrNoKey) {
		return err
	}

	if _, err := m.keys.DeriveKey(ctx, userID, identifier, kind); err != nil {
		return fmt.Errorf("failed to derive new key: %w", err)
	}

	sessions, err := m.repo.ListUserSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		messages, err := m.repo.LoadHistory(ctx, session.ID)
		if err != nil {
			m.logger.Warn("rotation skipping unreadable history",
				zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		if oldKey != "" {
			for i, msg := range messages {
				if codec.IsMessageEncrypted(msg) {
					messages[i] = codec.DecryptWith(msg, oldKey)
				}
			}
		}
		session.Touch()
		if err := m.repo.SaveSession(ctx, session, messages); err != nil {
			return fmt.Errorf("rotation failed to save %s: %w", session.ID, err)
		}
		res := m.syncer.Push(ctx, session, messages)
		m.logSyncResult(session.ID, res)
	}
	return nil
}

// schedule arms (or resets) the per-session debounce timer with a snapshot
// of the current state.
func (m *Manager) schedule(session *model.Session, messages []model.ChatMessage) {
	snapshot := *session
	msgs := make([]model.ChatMessage, len(messages))
	copy(msgs, messages)

	sch := m.schedulerFor(session.ID)
	sch.arm(m.cfg.Debounce, &snapshot, msgs, func() {
		m.fire(session.ID)
	})
}

// fire runs when a debounce timer elapses. If the minimum interval since the
// last actual sync has not passed yet, the push is deferred again rather
// than dropped.
func (m *Manager) fire(sessionID string) {
	sch := m.schedulerFor(sessionID)

	if elapsed := sch.sinceLastSync(time.Now()); elapsed < m.cfg.MinInterval {
		sch.postpone(m.cfg.MinInterval-elapsed, func() {
			m.fire(sessionID)
		})
		return
	}

	session, messages := sch.take()
	if session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := m.syncer.Push(ctx, session, messages)
	sch.markSynced(time.Now())
	m.logSyncResult(sessionID, res)
	if res.Outcome == remote.OutcomeSuccess {
		m.publisher.Publish(ctx, events.EventSynced, session)
	}
}

func (m *Manager) logSyncResult(sessionID string, res remote.Result) {
	switch res.Outcome {
	case remote.OutcomeSuccess:
		m.logger.Debug("session synced", zap.String("session_id", sessionID))
	case remote.OutcomeNoNetwork:
		// Deferred, not failed. Deliberately not logged as a problem.
		m.logger.Debug("sync skipped, no network", zap.String("session_id", sessionID))
	default:
		m.logger.Warn("remote sync did not complete",
			zap.String("session_id", sessionID),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(res.Err),
		)
	}
}

func (m *Manager) schedulerFor(sessionID string) *scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()

	sch, ok := m.schedulers[sessionID]
	if !ok {
		sch = &scheduler{}
		m.schedulers[sessionID] = sch
	}
	return sch
}

// sessionFromRow rebuilds a local session from the remote row, decrypting
// message content for local use. The remote timestamp is preserved: caching
// a remote copy is not a user mutation and must not win a later comparison
// it should lose.
func (m *Manager) sessionFromRow(ctx context.Context, row *model.RemoteSession, local *model.Session) (*model.Session, []model.ChatMessage) {
	messages := make([]model.ChatMessage, len(row.Messages))
	for i, rm := range row.Messages {
		msg := model.FromRemoteMessage(rm)
		messages[i] = m.codec.DecryptMessage(ctx, msg, row.UserID)
	}

	session := &model.Session{
		ID:             row.ID,
		UserID:         row.UserID,
		ScenarioID:     row.ScenarioID,
		SourceLanguage: row.SourceLanguage,
		TargetLanguage: row.TargetLanguage,
		Status:         row.Status,
		StartTime:      model.ISOToMillis(row.CreatedAt),
		LastUpdated:    model.ISOToMillis(row.UpdatedAt),
		Metrics:        row.Metrics,
	}
	if local != nil {
		// The scenario snapshot is not part of the remote row; keep the
		// locally cached one.
		session.Scenario = local.Scenario
		if session.StartTime == 0 {
			session.StartTime = local.StartTime
		}
	}
	return session, messages
}

func lastSenderIsUser(messages []model.ChatMessage) bool {
	return len(messages) > 0 && messages[len(messages)-1].Sender == model.SenderUser
}
