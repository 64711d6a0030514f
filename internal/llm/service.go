package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/pkg/logger"
)

// Service exposes the two collaborator operations the practice UI needs:
// a conversational reply and a single-text translation.
type Service struct {
	client Client
	logger *logger.Logger
}

// NewService creates an LLM service over a provider client.
func NewService(client Client, log *logger.Logger) *Service {
	return &Service{client: client, logger: log}
}

// Reply turns a message history plus scenario context into the assistant's
// next turn in the target language.
func (s *Service) Reply(ctx context.Context, history []model.ChatMessage, scenario *model.Scenario, targetLanguageName string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("no LLM provider configured")
	}

	messages := make([]ChatMessage, 0, len(history)+1)
	messages = append(messages, ChatMessage{
		Role:    "system",
		Content: replyPrompt(scenario, targetLanguageName),
	})
	for _, msg := range history {
		role := "user"
		if msg.Sender == model.SenderAssistant {
			role = "assistant"
		}
		messages = append(messages, ChatMessage{Role: role, Content: msg.Content.Original})
	}

	resp, err := s.client.Complete(ctx, &CompletionRequest{
		Messages:    messages,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("reply completion failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Translate renders text in the target language, returning only the
// translation.
func (s *Service) Translate(ctx context.Context, text, targetLanguageName string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("no LLM provider configured")
	}

	resp, err := s.client.Complete(ctx, &CompletionRequest{
		Messages: []ChatMessage{
			{
				Role:    "system",
				Content: fmt.Sprintf("Translate the user's message into %s. Reply with the translation only.", targetLanguageName),
			},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func replyPrompt(scenario *model.Scenario, targetLanguageName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a conversation partner helping someone practice %s. Reply in %s, keeping responses short and natural.",
		targetLanguageName, targetLanguageName)
	if scenario != nil && scenario.Title != "" {
		fmt.Fprintf(&b, " Stay in character for this scenario: %s.", scenario.Title)
	}
	if scenario != nil && len(scenario.Data) > 0 {
		fmt.Fprintf(&b, " Scenario context: %s", string(scenario.Data))
	}
	return b.String()
}
