package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatabubble/session-vault/internal/codec"
	"github.com/chatabubble/session-vault/internal/keystore"
	"github.com/chatabubble/session-vault/internal/manager"
	"github.com/chatabubble/session-vault/internal/middleware"
	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/internal/remote"
	"github.com/chatabubble/session-vault/internal/repository"
	"github.com/chatabubble/session-vault/internal/storage"
	"github.com/chatabubble/session-vault/pkg/logger"
)

// stubSyncer keeps every push local so handler tests never touch a network.
type stubSyncer struct{}

func (stubSyncer) Push(ctx context.Context, session *model.Session, messages []model.ChatMessage) remote.Result {
	return remote.Result{Outcome: remote.OutcomeNoNetwork}
}

func (stubSyncer) Fetch(ctx context.Context, sessionID string) (*model.RemoteSession, error) {
	return nil, nil
}

// asUser injects an authenticated user the way the auth middleware would.
func asUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newTestRouter(t *testing.T, userID string) (*chi.Mux, *repository.SessionRepository) {
	t.Helper()
	kv, err := storage.NewSQLiteKV(":memory:", 0)
	if err != nil {
		t.Fatalf("failed to open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	log := logger.NewNop()
	repo := repository.New(storage.NewChunkedStore(kv, 256*1024), 10, log)
	keys := keystore.New(kv, log)
	cdc := codec.New(keys, log)
	mgr := manager.New(repo, keys, cdc, stubSyncer{}, nil, manager.Config{Debounce: time.Hour, MinInterval: time.Millisecond}, log)
	h := NewSessionHandler(mgr, repo, log)

	r := chi.NewRouter()
	r.Use(asUser(userID))
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Get)
				r.Put("/", h.Update)
				r.Post("/end", h.End)
				r.Get("/history", h.History)
			})
		})
		r.Route("/users/me", func(r chi.Router) {
			r.Delete("/data", h.Cleanup)
			r.Post("/key/rotate", h.RotateKey)
		})
	})
	return r, repo
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sessionPayload(id string) UpdateSessionRequest {
	return UpdateSessionRequest{
		Session: model.Session{
			ID:             id,
			ScenarioID:     "scenario-1",
			TargetLanguage: &model.Language{Code: "es", Name: "Spanish"},
			Status:         model.StatusActive,
			StartTime:      model.NowMillis(),
		},
		Messages: []model.ChatMessage{
			{ID: "m1", Sender: model.SenderUser, Content: model.MessageContent{Original: "hola"}, Timestamp: model.NowMillis()},
		},
	}
}

func TestUpdateAndGetSession(t *testing.T) {
	router, _ := newTestRouter(t, "user-1")

	rec := doJSON(t, router, http.MethodPut, "/api/v1/sessions/s1", sessionPayload("s1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Session == nil || resp.Session.ID != "s1" || resp.Session.UserID != "user-1" {
		t.Fatalf("unexpected session: %+v", resp.Session)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(resp.Messages))
	}
}

func TestUpdateRejectsIDMismatch(t *testing.T) {
	router, _ := newTestRouter(t, "user-1")
	rec := doJSON(t, router, http.MethodPut, "/api/v1/sessions/other", sessionPayload("s1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestUpdateOverridesClientUserID(t *testing.T) {
	router, repo := newTestRouter(t, "user-1")

	payload := sessionPayload("s1")
	payload.Session.UserID = "someone-else"
	rec := doJSON(t, router, http.MethodPut, "/api/v1/sessions/s1", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d", rec.Code)
	}

	saved, err := repo.LoadSession(context.Background(), "s1")
	if err != nil || saved == nil {
		t.Fatalf("LoadSession: (%+v, %v)", saved, err)
	}
	if saved.UserID != "user-1" {
		t.Fatalf("client-supplied user id was trusted: %q", saved.UserID)
	}
}

func TestGetForeignSessionIs404(t *testing.T) {
	router, repo := newTestRouter(t, "user-1")

	foreign := sessionPayload("s9").Session
	foreign.UserID = "user-2"
	if err := repo.SaveSession(context.Background(), &foreign, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sessions/s9", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s9/history", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("history: got %d, want 404", rec.Code)
	}
}

func TestEndSession(t *testing.T) {
	router, repo := newTestRouter(t, "user-1")

	payload := sessionPayload("s1")
	end := EndSessionRequest{Session: payload.Session, Messages: payload.Messages, MarkCompleted: true}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/end", end)
	if rec.Code != http.StatusOK {
		t.Fatalf("end returned %d: %s", rec.Code, rec.Body.String())
	}

	saved, err := repo.LoadSession(context.Background(), "s1")
	if err != nil || saved == nil {
		t.Fatalf("LoadSession: (%+v, %v)", saved, err)
	}
	if saved.Status != model.StatusCompleted {
		t.Fatalf("status %s, want completed", saved.Status)
	}
}

func TestListSessions(t *testing.T) {
	router, _ := newTestRouter(t, "user-1")

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s%d", i)
		rec := doJSON(t, router, http.MethodPut, "/api/v1/sessions/"+id, sessionPayload(id))
		if rec.Code != http.StatusOK {
			t.Fatalf("update %s returned %d", id, rec.Code)
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var resp struct {
		Sessions []*model.Session `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(resp.Sessions))
	}
}

func TestCleanupEndpoint(t *testing.T) {
	router, repo := newTestRouter(t, "user-1")

	doJSON(t, router, http.MethodPut, "/api/v1/sessions/s1", sessionPayload("s1"))
	rec := doJSON(t, router, http.MethodDelete, "/api/v1/users/me/data", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cleanup returned %d", rec.Code)
	}
	if s, _ := repo.LoadSession(context.Background(), "s1"); s != nil {
		t.Fatal("session survived cleanup")
	}
}

func TestRotateKeyValidatesAuthKind(t *testing.T) {
	router, _ := newTestRouter(t, "user-1")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/users/me/key/rotate",
		RotateKeyRequest{Identifier: "pw", AuthKind: "magic"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/users/me/key/rotate",
		RotateKeyRequest{Identifier: "pw", AuthKind: "password"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204: %s", rec.Code, rec.Body.String())
	}
}
