// Package codec applies the cipher to the two text fields of a chat message
// and detects encryption at the message level.
package codec

import (
	"context"

	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/cipher"
	"github.com/chatabubble/session-vault/internal/keystore"
	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/pkg/logger"
	"github.com/chatabubble/session-vault/pkg/metrics"
)

// Codec encrypts and decrypts chat messages with per-user keys.
type Codec struct {
	keys   *keystore.Store
	logger *logger.Logger
}

// New creates a message codec over the key store.
func New(keys *keystore.Store, log *logger.Logger) *Codec {
	return &Codec{keys: keys, logger: log}
}

// IsMessageEncrypted reports whether a message reads as encrypted: either
// content field matching the ciphertext shape marks the whole message.
func IsMessageEncrypted(msg model.ChatMessage) bool {
	return cipher.IsEncrypted(msg.Content.Original) || cipher.IsEncrypted(msg.Content.Translated)
}

// EncryptMessage returns msg with both content fields encrypted. A message
// that already reads as encrypted is returned unchanged. When no key can be
// obtained the original message is returned unchanged and the degradation is
// logged, never raised: callers must tolerate messages that silently remain
// in their original state.
func (c *Codec) EncryptMessage(ctx context.Context, msg model.ChatMessage, userID string) model.ChatMessage {
	if IsMessageEncrypted(msg) {
		return msg
	}

	key, err := c.keys.EnsureKey(ctx, userID, "")
	if err != nil {
		c.logger.Warn("no key available, message left unencrypted",
			zap.String("user_id", userID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		metrics.EncryptionDegraded.Inc()
		return msg
	}

	return c.encryptWith(msg, key, userID)
}

// DecryptMessage reverses EncryptMessage. A message that does not read as
// encrypted is returned unchanged, as is one whose key cannot be obtained.
func (c *Codec) DecryptMessage(ctx context.Context, msg model.ChatMessage, userID string) model.ChatMessage {
	if !IsMessageEncrypted(msg) {
		return msg
	}

	key, err := c.keys.EnsureKey(ctx, userID, "")
	if err != nil {
		c.logger.Warn("no key available, message left encrypted",
			zap.String("user_id", userID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return msg
	}

	return DecryptWith(msg, key)
}

// EncryptWith encrypts using an explicit key, bypassing key lookup. Used by
// key rotation, which must encrypt under a key other than the stored one.
func (c *Codec) EncryptWith(msg model.ChatMessage, key, userID string) model.ChatMessage {
	if IsMessageEncrypted(msg) {
		return msg
	}
	return c.encryptWith(msg, key, userID)
}

func (c *Codec) encryptWith(msg model.ChatMessage, key, userID string) model.ChatMessage {
	original, err := cipher.Encrypt(msg.Content.Original, key)
	if err != nil {
		c.logger.Warn("failed to encrypt original text",
			zap.String("message_id", msg.ID), zap.Error(err))
		return msg
	}
	translated, err := cipher.Encrypt(msg.Content.Translated, key)
	if err != nil {
		// The design tolerates one field failing independently, but a
		// half-encrypted message must not leave a successful pass.
		c.logger.Warn("failed to encrypt translated text",
			zap.String("message_id", msg.ID), zap.Error(err))
		return msg
	}

	msg.Content.Original = original
	msg.Content.Translated = translated
	return msg
}

// DecryptWith decrypts using an explicit key. The cipher cannot detect a key
// mismatch; a wrong key silently yields garbage text.
func DecryptWith(msg model.ChatMessage, key string) model.ChatMessage {
	original, _ := cipher.Decrypt(msg.Content.Original, key)
	translated, _ := cipher.Decrypt(msg.Content.Translated, key)
	msg.Content.Original = original
	msg.Content.Translated = translated
	return msg
}
