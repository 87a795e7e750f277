package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	chatmodel "github.com/kirachat/backend/internal/model/chat"
	"github.com/kirachat/backend/internal/routing"
)

var testModels = routing.Models{
	Lite:  routing.ModelInfo{ID: "lite-model", DisplayName: "Kira Lite"},
	Flash: routing.ModelInfo{ID: "flash-model", DisplayName: "Kira Flash"},
	Pro:   routing.ModelInfo{ID: "pro-model", DisplayName: "Kira Pro"},
	Ultra: routing.ModelInfo{ID: "ultra-model", DisplayName: "Kira Ultra"},
}

type stubStreamer struct {
	chunks []string
}

func (s *stubStreamer) Stream(_ context.Context, _ string, _ routing.Tier) (*schema.StreamReader[*schema.Message], error) {
	messages := make([]*schema.Message, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		messages = append(messages, schema.AssistantMessage(chunk, nil))
	}
	return schema.StreamReaderFromArray(messages), nil
}

type recordingStore struct {
	messages []chatmodel.Message
}

func (s *recordingStore) InsertMessage(_ context.Context, m chatmodel.Message) (int64, error) {
	s.messages = append(s.messages, m)
	return int64(len(s.messages)), nil
}

func TestHandleStreamEmitsChunksAndPersists(t *testing.T) {
	store := &recordingStore{}
	h := New(&stubStreamer{chunks: []string{"hel", "lo"}}, store, testModels, "kira-user")

	req := httptest.NewRequest(http.MethodGet, "/chat/stream?message=hi", nil)
	resp := httptest.NewRecorder()
	h.HandleStream(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	if !strings.Contains(body, "event: start") {
		t.Fatal("missing start event")
	}
	if !strings.Contains(body, "event: chunk") || !strings.Contains(body, "hel") {
		t.Fatal("missing chunk events")
	}
	if !strings.Contains(body, "event: done") {
		t.Fatal("missing done event")
	}

	if len(store.messages) != 2 {
		t.Fatalf("expected two persisted rows, got %d", len(store.messages))
	}
	if store.messages[0].Type != chatmodel.TypeUser || store.messages[1].Type != chatmodel.TypeAI {
		t.Fatalf("rows out of order: %s then %s", store.messages[0].Type, store.messages[1].Type)
	}
	if store.messages[1].Text != "hello" {
		t.Fatalf("assembled reply mismatch: %q", store.messages[1].Text)
	}
	if store.messages[1].Model != "lite-model" {
		t.Fatalf("expected lite model on short prompt, got %q", store.messages[1].Model)
	}
}

func TestHandleStreamRequiresMessage(t *testing.T) {
	h := New(&stubStreamer{}, &recordingStore{}, testModels, "kira-user")

	req := httptest.NewRequest(http.MethodGet, "/chat/stream", nil)
	resp := httptest.NewRecorder()
	h.HandleStream(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
