package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/kirachat/backend/internal/analysis/content"
	chatmodel "github.com/kirachat/backend/internal/model/chat"
	"github.com/kirachat/backend/internal/routing"
	"github.com/kirachat/backend/internal/service/generate"
	"github.com/kirachat/backend/internal/session"
	"github.com/kirachat/backend/pkg/utils"
)

// Store is the slice of persistence the stream handler needs.
type Store interface {
	InsertMessage(ctx context.Context, m chatmodel.Message) (int64, error)
}

// Handler streams hosted-model replies over Server-Sent Events.
type Handler struct {
	streamer generate.Streamer
	store    Store
	models   routing.Models
	userID   string
}

// New creates the stream handler.
func New(streamer generate.Streamer, store Store, models routing.Models, userID string) *Handler {
	return &Handler{
		streamer: streamer,
		store:    store,
		models:   models,
		userID:   userID,
	}
}

// HandleStream emits start/chunk/done events while the model generates,
// then persists the completed exchange. Storage failures after the
// stream finished are logged only.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	identity := session.FromContext(ctx)
	decision := routing.Route(message, r.URL.Query().Get("forceModel"), h.models)

	stream, err := h.streamer.Stream(ctx, message, decision.Tier)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "start", map[string]string{
		"model":            decision.Model,
		"modelDisplayName": decision.DisplayName,
	})

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("[stream] generation failed mid-stream: %v", err)
			utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		if chunk.Content == "" {
			continue
		}
		reply.WriteString(chunk.Content)
		utils.SendSSEEvent(w, flusher, "chunk", map[string]string{"content": chunk.Content})
	}

	h.persistExchange(ctx, identity.SessionID, message, reply.String(), decision.Model)

	utils.SendSSEEvent(w, flusher, "done", map[string]string{
		"model": decision.Model,
	})
}

func (h *Handler) persistExchange(ctx context.Context, sessionID, message, reply, model string) {
	if _, err := h.store.InsertMessage(ctx, chatmodel.Message{
		UserID:     h.userID,
		Type:       chatmodel.TypeUser,
		Text:       message,
		Structured: content.IsStructured(message),
		SessionID:  sessionID,
	}); err != nil {
		log.Printf("[stream] failed to persist user message: %v", err)
	}
	if _, err := h.store.InsertMessage(ctx, chatmodel.Message{
		UserID:     h.userID,
		Type:       chatmodel.TypeAI,
		Text:       reply,
		Structured: content.IsStructured(reply),
		SessionID:  sessionID,
		Model:      model,
	}); err != nil {
		log.Printf("[stream] failed to persist ai message: %v", err)
	}
}
