package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirachat/backend/internal/config"
	chatmodel "github.com/kirachat/backend/internal/model/chat"
	"github.com/kirachat/backend/internal/routing"
	"github.com/kirachat/backend/internal/session"
	"github.com/kirachat/backend/internal/storage"
)

var testModels = routing.Models{
	Lite:  routing.ModelInfo{ID: "doubao-lite-32k", DisplayName: "Kira Lite"},
	Flash: routing.ModelInfo{ID: "doubao-pro-32k", DisplayName: "Kira Flash"},
	Pro:   routing.ModelInfo{ID: "doubao-1-5-pro-32k", DisplayName: "Kira Pro"},
	Ultra: routing.ModelInfo{ID: "doubao-1-5-thinking-pro", DisplayName: "Kira Ultra"},
}

type stubGenerator struct {
	name     string
	reply    string
	err      error
	lastTier routing.Tier
}

func (g *stubGenerator) Name() string { return g.name }

func (g *stubGenerator) Generate(_ context.Context, _ string, tier routing.Tier) (string, error) {
	g.lastTier = tier
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type testEnv struct {
	router *chi.Mux
	store  *storage.Store
	gen    *stubGenerator
}

func setup(t *testing.T, cfg config.ChatConfig, gen *stubGenerator) testEnv {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "kira.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg.UserID == "" {
		cfg.UserID = "kira-user"
	}

	h := New(store, gen, nil, cfg, testModels)
	r := chi.NewRouter()
	r.Use(session.Middleware(store, cfg.UserID))
	h.RegisterRoutes(r)

	return testEnv{router: r, store: store, gen: gen}
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestChatMissingMessage(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "unused"})

	resp := doJSON(t, env.router, http.MethodPost, "/chat", map[string]string{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	messages, err := env.store.ListRecent(context.Background(), "kira-user", 100)
	if err != nil {
		t.Fatalf("ListRecent err: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("rejected request must not persist rows, found %d", len(messages))
	}
}

func TestChatPersistsExchange(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "hello back"})

	resp := doJSON(t, env.router, http.MethodPost, "/chat", map[string]any{"message": "hi"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body chatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Response != "hello back" {
		t.Fatalf("unexpected response text %q", body.Response)
	}
	if body.Model != "" {
		t.Fatal("agent backend should not report a model")
	}

	messages, err := env.store.ListRecent(context.Background(), "kira-user", 100)
	if err != nil {
		t.Fatalf("ListRecent err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected exactly two rows, got %d", len(messages))
	}

	// Newest first: ai row, then user row.
	ai, user := messages[0], messages[1]
	if user.Type != chatmodel.TypeUser || ai.Type != chatmodel.TypeAI {
		t.Fatalf("rows out of order: %s, %s", ai.Type, user.Type)
	}
	if user.SessionID == "" || user.SessionID != ai.SessionID {
		t.Fatalf("rows must share a session id: %q vs %q", user.SessionID, ai.SessionID)
	}
	if user.Structured {
		t.Fatal("plain greeting must not be flagged structured")
	}
}

func TestChatHostedModelAnnotation(t *testing.T) {
	env := setup(t, config.ChatConfig{AnnotateModel: true}, &stubGenerator{name: "ark", reply: "short answer"})

	resp := doJSON(t, env.router, http.MethodPost, "/chat", map[string]any{"message": "hi"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body chatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Model != "doubao-lite-32k" {
		t.Fatalf("short prompt should route to lite, got %q", body.Model)
	}
	if body.ModelDisplayName != "Kira Lite" {
		t.Fatalf("unexpected display name %q", body.ModelDisplayName)
	}
	if !strings.HasSuffix(body.Response, "[Kira Lite]") {
		t.Fatalf("response should carry the model annotation, got %q", body.Response)
	}

	// The persisted row keeps the raw reply and the model id.
	messages, _ := env.store.ListRecent(context.Background(), "kira-user", 100)
	if messages[0].Text != "short answer" {
		t.Fatalf("persisted text should be unannotated, got %q", messages[0].Text)
	}
	if messages[0].Model != "doubao-lite-32k" {
		t.Fatalf("persisted model mismatch: %q", messages[0].Model)
	}
}

func TestChatForceModel(t *testing.T) {
	gen := &stubGenerator{name: "ark", reply: "ok"}
	env := setup(t, config.ChatConfig{}, gen)

	resp := doJSON(t, env.router, http.MethodPost, "/chat", map[string]any{"message": "hi", "forceModel": "ultra"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if gen.lastTier != routing.TierUltra {
		t.Fatalf("forceModel=ultra should select ultra, got %s", gen.lastTier)
	}

	resp = doJSON(t, env.router, http.MethodPost, "/chat", map[string]any{"message": "hi", "forceModel": "bogus"})
	if resp.Code != http.StatusOK {
		t.Fatalf("unknown override must not error, got %d", resp.Code)
	}
	if gen.lastTier != routing.TierLite {
		t.Fatalf("unknown override should fall back to lite, got %s", gen.lastTier)
	}
}

func TestChatGenerationFailure(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", err: errors.New("agent command failed: boom")})

	resp := doJSON(t, env.router, http.MethodPost, "/chat", map[string]any{"message": "hi"})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "boom") {
		t.Fatalf("error text should surface verbatim, got %s", resp.Body.String())
	}

	messages, _ := env.store.ListRecent(context.Background(), "kira-user", 100)
	if len(messages) != 0 {
		t.Fatalf("failed generation should persist nothing, found %d rows", len(messages))
	}
}

func TestHistoryReturnsNewestFirst(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "pong"})
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := env.store.InsertMessage(ctx, chatmodel.Message{
			UserID:    "kira-user",
			Type:      chatmodel.TypeUser,
			Text:      fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed err: %v", err)
		}
	}

	resp := doJSON(t, env.router, http.MethodGet, "/chat/history", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Messages []chatmodel.Message `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(body.Messages) != 3 || body.Messages[0].Text != "m2" {
		t.Fatalf("unexpected history: %+v", body.Messages)
	}
}

func TestListMessagesPagination(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "pong"})
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		_, err := env.store.InsertMessage(ctx, chatmodel.Message{
			UserID:    "kira-user",
			Type:      chatmodel.TypeUser,
			Text:      fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed err: %v", err)
		}
	}

	resp := doJSON(t, env.router, http.MethodGet, "/chat/messages?limit=3&offset=5", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Messages []chatmodel.Message `json:"messages"`
		HasMore  bool                `json:"hasMore"`
		Offset   int                 `json:"offset"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected min(3, 7-5)=2 rows, got %d", len(body.Messages))
	}
	if body.HasMore {
		t.Fatal("offset 5 + limit 3 >= 7, hasMore must be false")
	}
	if body.Offset != 7 {
		t.Fatalf("next offset should be 7, got %d", body.Offset)
	}
}

func TestSaveMessageClassifiesWhenUnset(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "pong"})

	resp := doJSON(t, env.router, http.MethodPost, "/chat/messages", map[string]any{
		"type": "user",
		"text": "see https://example.com",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Success bool  `json:"success"`
		ID      int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !body.Success || body.ID == 0 {
		t.Fatalf("unexpected body: %+v", body)
	}

	messages, _ := env.store.ListRecent(context.Background(), "kira-user", 10)
	if !messages[0].Structured {
		t.Fatal("url content should be classified as structured")
	}
}

func TestSaveMessageMissingFields(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "pong"})

	resp := doJSON(t, env.router, http.MethodPost, "/chat/messages", map[string]any{"text": "no type"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSyncUpsertsSingleSessionRow(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "pong"})

	first := time.Now().UTC().Add(-time.Minute).UnixMilli()
	second := time.Now().UTC().UnixMilli()

	for _, ts := range []int64{first, second} {
		resp := doJSON(t, env.router, http.MethodPost, "/chat/sync", map[string]any{
			"session_id": "sess_sync",
			"last_seen":  ts,
		})
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Code)
		}
	}

	sess, err := env.store.GetSession(context.Background(), "sess_sync")
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if sess.LastSeen.UnixMilli() != second {
		t.Fatalf("expected latest last_seen %d, got %d", second, sess.LastSeen.UnixMilli())
	}
}

func TestSyncRequiresSessionID(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "pong"})

	resp := doJSON(t, env.router, http.MethodPost, "/chat/sync", map[string]any{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestDeleteHistory(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "pong"})
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		_, err := env.store.InsertMessage(ctx, chatmodel.Message{
			UserID:    "kira-user",
			Type:      chatmodel.TypeUser,
			Text:      "old",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed err: %v", err)
		}
	}

	cutoff := base.Add(2 * time.Minute).UnixMilli()
	resp := doJSON(t, env.router, http.MethodDelete, fmt.Sprintf("/chat/history?olderThan=%d", cutoff), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", body.Deleted)
	}

	// Second call with the same cutoff is a no-op.
	resp = doJSON(t, env.router, http.MethodDelete, fmt.Sprintf("/chat/history?olderThan=%d", cutoff), nil)
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Deleted != 0 {
		t.Fatalf("repeat delete should remove 0 rows, got %d", body.Deleted)
	}
}

func TestDeleteHistoryRequiresCutoff(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "agent", reply: "pong"})

	resp := doJSON(t, env.router, http.MethodDelete, "/chat/history", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSwitchModel(t *testing.T) {
	gen := &stubGenerator{name: "ark", reply: "ok"}
	env := setup(t, config.ChatConfig{}, gen)

	resp := doJSON(t, env.router, http.MethodPost, "/switch-model", map[string]string{"model": "ultra"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body["model"] != "ultra" || body["modelName"] != "doubao-1-5-thinking-pro" {
		t.Fatalf("unexpected switch response: %+v", body)
	}

	// Subsequent chats without forceModel use the stored override.
	doJSON(t, env.router, http.MethodPost, "/chat", map[string]any{"message": "hi"})
	if gen.lastTier != routing.TierUltra {
		t.Fatalf("stored override should apply, got %s", gen.lastTier)
	}
}

func TestSwitchModelUnknownFallsBack(t *testing.T) {
	env := setup(t, config.ChatConfig{}, &stubGenerator{name: "ark", reply: "ok"})

	resp := doJSON(t, env.router, http.MethodPost, "/switch-model", map[string]string{"model": "bogus"})
	if resp.Code != http.StatusOK {
		t.Fatalf("fallback must not error, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body["model"] != "lite" || body["modelName"] != "doubao-lite-32k" {
		t.Fatalf("unknown model should fall back to lite: %+v", body)
	}
}
