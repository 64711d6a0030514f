// Package model defines data structures for the session vault.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusSaved     SessionStatus = "saved"
	StatusCompleted SessionStatus = "completed"
)

// Language describes one side of a practice conversation.
type Language struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Direction string `json:"direction,omitempty"`
}

// Scenario is the role-play context snapshot embedded in a session. Its
// content is opaque to this subsystem except for the target language, which
// the sync adapter falls back to when the session's own field is unset.
type Scenario struct {
	ID             string          `json:"id"`
	Title          string          `json:"title,omitempty"`
	TargetLanguage *Language       `json:"target_language,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// SessionMetrics are derived counters, recomputed on every persist. They are
// never authoritative; Messages plus StartTime can always reproduce them.
type SessionMetrics struct {
	MessageCount          int   `json:"message_count"`
	UserMessageCount      int   `json:"user_message_count"`
	AssistantMessageCount int   `json:"assistant_message_count"`
	DurationSeconds       int64 `json:"duration_seconds"`
}

// Session represents a single practice conversation.
type Session struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ScenarioID     string         `json:"scenario_id"`
	Scenario       *Scenario      `json:"scenario,omitempty"`
	SourceLanguage *Language      `json:"source_language,omitempty"`
	TargetLanguage *Language      `json:"target_language,omitempty"`
	Status         SessionStatus  `json:"status"`
	Messages       []ChatMessage  `json:"messages,omitempty"`
	StartTime      int64          `json:"start_time"`
	LastUpdated    int64          `json:"last_updated"`
	Metrics        SessionMetrics `json:"metrics"`
}

// NowMillis returns the current time in epoch milliseconds, the clock unit
// used for conflict resolution.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Touch sets LastUpdated to now. LastUpdated must be monotonically
// non-decreasing for a given session across local and remote copies, so
// Touch never moves it backwards.
func (s *Session) Touch() {
	if now := NowMillis(); now > s.LastUpdated {
		s.LastUpdated = now
	} else {
		s.LastUpdated++
	}
}

// CanTransitionTo reports whether the status state machine permits a move.
// Completed is terminal.
func (st SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if st == next {
		return true
	}
	switch st {
	case StatusActive:
		return next == StatusSaved || next == StatusCompleted
	case StatusSaved:
		return next == StatusActive
	default:
		return false
	}
}

// SetStatus applies a status transition, bumping LastUpdated.
func (s *Session) SetStatus(next SessionStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition %s -> %s", s.Status, next)
	}
	if s.Status != next {
		s.Status = next
		s.Touch()
	}
	return nil
}

// ComputeMetrics derives summary metrics from a message list and start time.
func ComputeMetrics(messages []ChatMessage, startTime int64, now int64) SessionMetrics {
	m := SessionMetrics{MessageCount: len(messages)}
	for _, msg := range messages {
		switch msg.Sender {
		case SenderUser:
			m.UserMessageCount++
		case SenderAssistant:
			m.AssistantMessageCount++
		}
	}
	if startTime > 0 && now > startTime {
		m.DurationSeconds = (now - startTime) / 1000
	}
	return m
}

// ResolvedTargetLanguage returns the session's target language, falling back
// to the scenario snapshot. Nil when neither is set.
func (s *Session) ResolvedTargetLanguage() *Language {
	if s.TargetLanguage != nil && s.TargetLanguage.Code != "" {
		return s.TargetLanguage
	}
	if s.Scenario != nil && s.Scenario.TargetLanguage != nil {
		return s.Scenario.TargetLanguage
	}
	return nil
}
