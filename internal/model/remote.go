package model

import (
	"time"
)

// isoMillis is the wire timestamp layout for the remote store.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// RemoteMessage is the remote representation of a ChatMessage. Timestamps
// are ISO-8601 strings on the wire; the local representation uses epoch
// milliseconds.
type RemoteMessage struct {
	ID        string         `json:"id"`
	Sender    Sender         `json:"sender"`
	Content   MessageContent `json:"content"`
	Timestamp string         `json:"timestamp"`
	IsEdited  bool           `json:"is_edited,omitempty"`
}

// RemoteSession is the row shape upserted into the remote store.
type RemoteSession struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	ScenarioID     string          `json:"scenario_id"`
	Messages       []RemoteMessage `json:"messages"`
	SourceLanguage *Language       `json:"source_language,omitempty"`
	TargetLanguage *Language       `json:"target_language"`
	Status         SessionStatus   `json:"status"`
	Metrics        SessionMetrics  `json:"metrics"`
	UpdatedAt      string          `json:"updated_at"`
	CreatedAt      string          `json:"created_at"`
}

// MillisToISO converts epoch milliseconds to the remote timestamp format.
func MillisToISO(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoMillis)
}

// ISOToMillis converts a remote timestamp to epoch milliseconds. Malformed
// or empty input yields zero, which always loses a last-write-wins
// comparison.
func ISOToMillis(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse(isoMillis, s); err != nil {
			return 0
		}
	}
	return t.UnixMilli()
}

// ToRemoteMessage converts a local message for the sync boundary.
func ToRemoteMessage(msg ChatMessage) RemoteMessage {
	return RemoteMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: MillisToISO(msg.Timestamp),
		IsEdited:  msg.IsEdited,
	}
}

// FromRemoteMessage converts a remote message back to the local shape.
func FromRemoteMessage(msg RemoteMessage) ChatMessage {
	return ChatMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: ISOToMillis(msg.Timestamp),
		IsEdited:  msg.IsEdited,
	}
}
