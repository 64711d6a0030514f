// Package repository provides session and chat-history CRUD on top of the
// chunked local store, plus the local retention policy.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/internal/storage"
	"github.com/chatabubble/session-vault/pkg/logger"
	"github.com/chatabubble/session-vault/pkg/metrics"
)

const (
	sessionPrefix = "session:"
	historyPrefix = "history:"
)

// SessionRepository persists sessions and their message histories. Metadata
// and messages live under separate keys so the UI can load either without
// deserializing the other.
type SessionRepository struct {
	store     *storage.ChunkedStore
	activeCap int
	logger    *logger.Logger
}

// New creates a session repository. activeCap bounds locally retained
// active-status sessions.
func New(store *storage.ChunkedStore, activeCap int, log *logger.Logger) *SessionRepository {
	return &SessionRepository{
		store:     store,
		activeCap: activeCap,
		logger:    log,
	}
}

// SaveSession persists session metadata and messages, recomputing metrics,
// then applies the retention policy. Local persistence failures are fatal to
// the caller; eviction failures are logged and swallowed.
func (r *SessionRepository) SaveSession(ctx context.Context, session *model.Session, messages []model.ChatMessage) error {
	if session.ID == "" {
		return errors.New("session id is required")
	}

	session.Metrics = model.ComputeMetrics(messages, session.StartTime, model.NowMillis())

	// The metadata record carries no messages; the history record is the
	// single source of message truth.
	meta := *session
	meta.Messages = nil

	metaJSON, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}
	historyJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal history for %s: %w", session.ID, err)
	}

	if err := r.store.Save(ctx, historyPrefix+session.ID, string(historyJSON)); err != nil {
		return fmt.Errorf("failed to save history for %s: %w", session.ID, err)
	}
	if err := r.store.Save(ctx, sessionPrefix+session.ID, string(metaJSON)); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}

	r.evict(ctx)
	return nil
}

// LoadSession returns the session metadata, or nil when absent.
func (r *SessionRepository) LoadSession(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.store.Load(ctx, sessionPrefix+id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var session model.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("corrupt session record %s: %w", id, err)
	}
	return &session, nil
}

// LoadHistory returns the message history, or an empty slice when absent.
func (r *SessionRepository) LoadHistory(ctx context.Context, id string) ([]model.ChatMessage, error) {
	raw, err := r.store.Load(ctx, historyPrefix+id)
	if errors.Is(err, storage.ErrNotFound) {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", id, err)
	}

	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("corrupt history record %s: %w", id, err)
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	return messages, nil
}

// DeleteSession removes both the metadata and history records.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, sessionPrefix+id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if err := r.store.Delete(ctx, historyPrefix+id); err != nil {
		return fmt.Errorf("failed to delete history for %s: %w", id, err)
	}
	return nil
}

// ListSessions returns all locally held session metadata records.
func (r *SessionRepository) ListSessions(ctx context.Context) ([]*model.Session, error) {
	keys, err := r.store.Keys(ctx, sessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*model.Session, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, sessionPrefix)
		session, err := r.LoadSession(ctx, id)
		if err != nil {
			r.logger.Warn("skipping unreadable session record",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		if session != nil {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

// ListUserSessions returns a user's locally held sessions.
func (r *SessionRepository) ListUserSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	sessions, err := r.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var owned []*model.Session
	for _, s := range sessions {
		if s.UserID == userID {
			owned = append(owned, s)
		}
	}
	return owned, nil
}

// evict removes the oldest-by-lastUpdated active sessions beyond the cap.
// Saved and completed sessions are exempt: they are assumed synchronized or
// explicitly kept. Losing a stale cache entry must never block the primary
// save path, so every failure here is logged and swallowed.
func (r *SessionRepository) evict(ctx context.Context) {
	if r.activeCap <= 0 {
		return
	}
	sessions, err := r.ListSessions(ctx)
	if err != nil {
		r.logger.Warn("eviction scan failed", zap.Error(err))
		return
	}

	var active []*model.Session
	for _, s := range sessions {
		if s.Status == model.StatusActive {
			active = append(active, s)
		}
	}
	if len(active) <= r.activeCap {
		return
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastUpdated > active[j].LastUpdated
	})
	for _, s := range active[r.activeCap:] {
		if err := r.DeleteSession(ctx, s.ID); err != nil {
			r.logger.Warn("failed to evict session",
				zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		metrics.SessionsEvicted.Inc()
		r.logger.Info("evicted session past retention cap",
			zap.String("session_id", s.ID),
			zap.Int64("last_updated", s.LastUpdated),
		)
	}
}
