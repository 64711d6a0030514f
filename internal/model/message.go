package model

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageContent holds the two independently encryptable text fields of a
// message. Either both are plaintext or both are ciphertext-shaped after a
// successful codec pass.
type MessageContent struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
}

// ChatMessage represents one turn within a session. Messages are never
// mutated after creation except to attach a translation once available.
type ChatMessage struct {
	ID        string         `json:"id"`
	Sender    Sender         `json:"sender"`
	Content   MessageContent `json:"content"`
	Timestamp int64          `json:"timestamp"`
	IsEdited  bool           `json:"is_edited,omitempty"`
}
