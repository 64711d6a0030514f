// Package remote pushes session snapshots to the remote store as single
// idempotent upserts, independent of local storage concerns.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/codec"
	"github.com/chatabubble/session-vault/internal/keystore"
	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/pkg/logger"
	"github.com/chatabubble/session-vault/pkg/metrics"
)

// Outcome classifies the result of a sync attempt. Callers branch on this
// rather than on errors alone.
type Outcome string

const (
	// OutcomeSuccess: the upsert landed and the row is returned.
	OutcomeSuccess Outcome = "success"
	// OutcomeNoNetwork: skipped, the remote store is unreachable. Not an
	// error; callers queue a retry instead of surfacing a failure.
	OutcomeNoNetwork Outcome = "no_network"
	// OutcomeEncryptionFailed: the key store failed hard (not merely a
	// missing key, which degrades to plaintext).
	OutcomeEncryptionFailed Outcome = "encryption_failed"
	// OutcomeRemoteError: the store rejected or failed the request.
	OutcomeRemoteError Outcome = "remote_error"
	// OutcomeUnknown: the attempt's fate is undetermined (timeout, bad
	// preconditions). A timed-out write may still have landed server-side;
	// re-check remote state rather than assume failure.
	OutcomeUnknown Outcome = "unknown"
)

// Result is the structured outcome of a sync attempt.
type Result struct {
	Outcome Outcome
	Row     *model.RemoteSession
	Err     error
}

// ReachabilityChecker reports whether the remote store is reachable.
type ReachabilityChecker interface {
	Reachable(ctx context.Context) bool
}

// Adapter pushes sessions to the remote REST store.
type Adapter struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	reachability ReachabilityChecker
	timeout      time.Duration
	keys         *keystore.Store
	codec        *codec.Codec
	logger       *logger.Logger
	tracer       trace.Tracer
}

// Config holds adapter construction parameters.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	Reachability ReachabilityChecker
}

// New creates a remote sync adapter.
func New(cfg Config, keys *keystore.Store, cdc *codec.Codec, log *logger.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reach := cfg.Reachability
	if reach == nil {
		reach = NewHTTPChecker(cfg.BaseURL, 3*time.Second)
	}
	return &Adapter{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		client:       &http.Client{},
		reachability: reach,
		timeout:      timeout,
		keys:         keys,
		codec:        cdc,
		logger:       log,
		tracer:       otel.Tracer("remote-sync"),
	}
}

// Push upserts a session snapshot with its messages. Messages are encrypted
// before leaving the device; summary metrics are recomputed fresh on every
// call and never trusted from a prior remote value.
func (a *Adapter) Push(ctx context.Context, session *model.Session, messages []model.ChatMessage) Result {
	start := time.Now()
	res := a.push(ctx, session, messages)
	metrics.RecordSync(string(res.Outcome), time.Since(start).Seconds(), len(messages))
	return res
}

func (a *Adapter) push(ctx context.Context, session *model.Session, messages []model.ChatMessage) Result {
	ctx, span := a.tracer.Start(ctx, "remote.Push",
		trace.WithAttributes(
			attribute.String("session.id", session.ID),
			attribute.Int("session.messages", len(messages)),
		))
	defer span.End()

	if session.UserID == "" {
		return Result{Outcome: OutcomeUnknown, Err: errors.New("session has no user id")}
	}
	target := session.ResolvedTargetLanguage()
	if target == nil {
		return Result{Outcome: OutcomeUnknown, Err: fmt.Errorf("session %s has no target language", session.ID)}
	}

	if !a.reachability.Reachable(ctx) {
		// A distinguished non-error outcome: deferred, not failed.
		return Result{Outcome: OutcomeNoNetwork}
	}

	encrypted, err := a.encryptMessages(ctx, session.UserID, messages)
	if err != nil {
		return Result{Outcome: OutcomeEncryptionFailed, Err: err}
	}

	row := &model.RemoteSession{
		ID:             session.ID,
		UserID:         session.UserID,
		ScenarioID:     session.ScenarioID,
		Messages:       encrypted,
		SourceLanguage: session.SourceLanguage,
		TargetLanguage: target,
		Status:         session.Status,
		Metrics:        model.ComputeMetrics(messages, session.StartTime, model.NowMillis()),
		UpdatedAt:      model.MillisToISO(session.LastUpdated),
		CreatedAt:      model.MillisToISO(session.StartTime),
	}

	upsertCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.upsert(upsertCtx, row); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The write may have landed server-side after the local timer
			// fired. Unknown outcome, verify independently.
			a.logger.Warn("remote sync timed out",
				zap.String("session_id", session.ID), zap.Error(err))
			return Result{Outcome: OutcomeUnknown, Err: err}
		}
		a.logger.Warn("remote sync failed",
			zap.String("session_id", session.ID), zap.Error(err))
		return Result{Outcome: OutcomeRemoteError, Err: err}
	}

	return Result{Outcome: OutcomeSuccess, Row: row}
}

// encryptMessages passes every message through the codec. Only a hard key
// store failure aborts; a merely missing key is an explicit, logged
// degradation and the messages go out in their original state.
func (a *Adapter) encryptMessages(ctx context.Context, userID string, messages []model.ChatMessage) ([]model.RemoteMessage, error) {
	key, err := a.keys.EnsureKey(ctx, userID, "")
	switch {
	case errors.Is(err, keystore.ErrNoKey):
		a.logger.Warn("syncing without encryption, no key obtainable",
			zap.String("user_id", userID))
		metrics.EncryptionDegraded.Inc()
		key = ""
	case err != nil:
		return nil, fmt.Errorf("key store failure: %w", err)
	}

	out := make([]model.RemoteMessage, len(messages))
	for i, msg := range messages {
		if key != "" {
			msg = a.codec.EncryptWith(msg, key, userID)
		}
		out[i] = model.ToRemoteMessage(msg)
	}
	return out, nil
}

func (a *Adapter) upsert(ctx context.Context, row *model.RemoteSession) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal session row: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s", a.baseURL, row.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		req.Header.Set("apikey", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("upsert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Fetch retrieves the remote copy of a session, or nil when absent.
func (a *Adapter) Fetch(ctx context.Context, sessionID string) (*model.RemoteSession, error) {
	if !a.reachability.Reachable(ctx) {
		return nil, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/sessions/%s", a.baseURL, sessionID)
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		req.Header.Set("apikey", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote store returned %d", resp.StatusCode)
	}

	var row model.RemoteSession
	if err := json.NewDecoder(resp.Body).Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode remote session: %w", err)
	}
	return &row, nil
}
