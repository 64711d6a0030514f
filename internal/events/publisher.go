package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/pkg/logger"
)

const (
	// StreamName is the name of the session lifecycle stream.
	StreamName = "SESSIONS"

	// SubjectPrefix is the prefix for all session subjects.
	SubjectPrefix = "session"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	EventSaved     EventType = "saved"
	EventSynced    EventType = "synced"
	EventCompleted EventType = "completed"
	EventEvicted   EventType = "evicted"
	EventCleanup   EventType = "cleanup"
)

// SessionEvent is the published lifecycle record.
type SessionEvent struct {
	ID        string               `json:"id"`
	SessionID string               `json:"session_id"`
	UserID    string               `json:"user_id"`
	Type      EventType            `json:"type"`
	Status    model.SessionStatus  `json:"status,omitempty"`
	Metrics   model.SessionMetrics `json:"metrics,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// Publisher emits session lifecycle events. A nil Publisher is valid and
// drops everything, so the vault runs without a broker.
type Publisher struct {
	client *Client
	logger *logger.Logger
}

// NewPublisher creates a lifecycle publisher and ensures its stream exists.
func NewPublisher(ctx context.Context, client *Client, log *logger.Logger) (*Publisher, error) {
	p := &Publisher{client: client, logger: log}
	if err := p.ensureStream(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Session lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Subject returns the subject for an event.
func Subject(userID, sessionID string, eventType EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, userID, sessionID, eventType)
}

// Publish emits a lifecycle event. Publishing is best-effort: failures are
// logged, never propagated, because event delivery must not affect the
// persistence path.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, session *model.Session) {
	if p == nil || p.client == nil {
		return
	}

	event := SessionEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: session.ID,
		UserID:    session.UserID,
		Type:      eventType,
		Status:    session.Status,
		Metrics:   session.Metrics,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to marshal session event", zap.Error(err))
		return
	}

	subject := Subject(session.UserID, session.ID, eventType)
	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		p.logger.Warn("failed to publish session event",
			zap.String("subject", subject), zap.Error(err))
	}
}
