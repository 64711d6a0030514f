// Package keystore derives and persists one symmetric key per user.
//
// Keys never leave the device: they live only in the local store, keyed by
// user ID. Password-derived keys hash the user ID together with a stable
// identifier (password or email). Social sign-in offers no stable secret to
// hash, so those keys additionally fold in a persistent random secret
// generated once per user.
package keystore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/internal/storage"
	"github.com/chatabubble/session-vault/pkg/logger"
	"github.com/chatabubble/session-vault/pkg/metrics"
)

// AuthKind selects the key-derivation input set.
type AuthKind string

const (
	AuthPassword AuthKind = "password"
	AuthSocial   AuthKind = "social"
)

// ErrNoKey signals that no key exists for a user and none could be derived.
var ErrNoKey = errors.New("no key available for user")

// Record is the persisted key-store entry for one user. Previous versions
// are retained so a failed rotation push can be retried against data still
// encrypted under an older key.
type Record struct {
	UserID    string   `json:"user_id"`
	Key       string   `json:"key"`
	AuthKind  AuthKind `json:"auth_kind"`
	Version   int      `json:"version"`
	Previous  []string `json:"previous,omitempty"`
	UpdatedAt int64    `json:"updated_at"`
}

// Store persists derived keys and social secrets.
type Store struct {
	kv     storage.KV
	logger *logger.Logger
}

// New creates a key store over the local KV primitive.
func New(kv storage.KV, log *logger.Logger) *Store {
	return &Store{kv: kv, logger: log}
}

func keyEntry(userID string) string {
	return "userkey:" + userID
}

func secretEntry(userID string) string {
	return "usersecret:" + userID
}

// DeriveKey derives and persists a key for userID. Re-deriving with the same
// inputs (and, for social auth, the same stored secret) yields the same key,
// which is what makes previously written data decryptable.
func (s *Store) DeriveKey(ctx context.Context, userID, identifier string, kind AuthKind) (string, error) {
	material := userID + identifier
	if kind == AuthSocial {
		secret, err := s.ensureSocialSecret(ctx, userID)
		if err != nil {
			return "", err
		}
		material += secret
	}

	sum := sha256.Sum256([]byte(material))
	key := hex.EncodeToString(sum[:])

	rec, err := s.load(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	if rec == nil {
		rec = &Record{UserID: userID, Version: 0}
	}
	if rec.Key != "" && rec.Key != key {
		// Key changed (password change or auth-type switch). Old ciphertext
		// stays decryptable only through the retained previous versions.
		rec.Previous = append([]string{rec.Key}, rec.Previous...)
		s.logger.Warn("user key rotated, prior version retained",
			zap.String("user_id", userID),
			zap.Int("version", rec.Version+1),
		)
	}
	rec.Key = key
	rec.AuthKind = kind
	rec.Version++
	rec.UpdatedAt = model.NowMillis()

	if err := s.save(ctx, rec); err != nil {
		return "", err
	}
	metrics.KeysDerived.WithLabelValues(string(kind)).Inc()
	return key, nil
}

// EnsureKey returns the existing key for userID, or regenerates one using
// best-effort inference. Regeneration cannot recover the ability to decrypt
// data written under a discarded key.
func (s *Store) EnsureKey(ctx context.Context, userID, identifierHint string) (string, error) {
	if userID == "" {
		return "", ErrNoKey
	}
	rec, err := s.load(ctx, userID)
	if err == nil && rec.Key != "" {
		return rec.Key, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	// No key on record. Prefer social derivation when a secret already
	// exists, then a password derivation from the hint, then a fresh social
	// secret as the last resort.
	kind := AuthSocial
	if _, err := s.kv.Get(ctx, secretEntry(userID)); errors.Is(err, storage.ErrNotFound) {
		if identifierHint != "" {
			kind = AuthPassword
		}
	} else if err != nil {
		return "", err
	}

	s.logger.Warn("regenerating missing user key",
		zap.String("user_id", userID),
		zap.String("auth_kind", string(kind)),
	)
	return s.DeriveKey(ctx, userID, identifierHint, kind)
}

// CurrentKey returns the stored key without deriving a new one.
func (s *Store) CurrentKey(ctx context.Context, userID string) (string, error) {
	rec, err := s.load(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoKey
	}
	if err != nil {
		return "", err
	}
	return rec.Key, nil
}

// PreviousKeys returns retained prior key versions, newest first.
func (s *Store) PreviousKeys(ctx context.Context, userID string) ([]string, error) {
	rec, err := s.load(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.Previous, nil
}

// DeleteUser removes the user's key record and social secret. Used on
// sign-out and account deletion.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := s.kv.Delete(ctx, keyEntry(userID)); err != nil {
		return err
	}
	return s.kv.Delete(ctx, secretEntry(userID))
}

func (s *Store) ensureSocialSecret(ctx context.Context, userID string) (string, error) {
	secret, err := s.kv.Get(ctx, secretEntry(userID))
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate social secret: %w", err)
	}
	secret = hex.EncodeToString(buf)
	if err := s.kv.Set(ctx, secretEntry(userID), secret); err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Store) load(ctx context.Context, userID string) (*Record, error) {
	raw, err := s.kv.Get(ctx, keyEntry(userID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("corrupt key record for %q: %w", userID, err)
	}
	return &rec, nil
}

func (s *Store) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal key record: %w", err)
	}
	return s.kv.Set(ctx, keyEntry(rec.UserID), string(data))
}
