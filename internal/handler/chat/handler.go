package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirachat/backend/internal/analysis/content"
	"github.com/kirachat/backend/internal/config"
	chatmodel "github.com/kirachat/backend/internal/model/chat"
	speechmodel "github.com/kirachat/backend/internal/model/speech"
	"github.com/kirachat/backend/internal/routing"
	"github.com/kirachat/backend/internal/service/generate"
	"github.com/kirachat/backend/internal/session"
	"github.com/kirachat/backend/internal/storage"
	"github.com/kirachat/backend/pkg/utils"
)

// Store is the slice of the persistence layer the chat handlers use.
type Store interface {
	InsertMessage(ctx context.Context, m chatmodel.Message) (int64, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]chatmodel.Message, error)
	ListPage(ctx context.Context, userID string, limit, offset int) (storage.Page, error)
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	UpsertSession(ctx context.Context, sess chatmodel.Session) error
}

// Synthesizer is the optional text-to-speech dependency.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
	Voice() string
}

// Handler serves the chat endpoints.
type Handler struct {
	store  Store
	gen    generate.Generator
	synth  Synthesizer
	cfg    config.ChatConfig
	models routing.Models

	mu       sync.Mutex
	override string // tier selected via /switch-model, "" when unset
}

// New creates the chat handler. synth may be nil when speech is disabled.
func New(store Store, gen generate.Generator, synth Synthesizer, cfg config.ChatConfig, models routing.Models) *Handler {
	return &Handler{
		store:  store,
		gen:    gen,
		synth:  synth,
		cfg:    cfg,
		models: models,
	}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/history", h.handleHistory)
	r.Delete("/chat/history", h.handleDeleteHistory)
	r.Get("/chat/messages", h.handleListMessages)
	r.Post("/chat/messages", h.handleSaveMessage)
	r.Post("/chat/sync", h.handleSync)
	r.Post("/switch-model", h.handleSwitchModel)
}

type chatRequest struct {
	Message      string `json:"message"`
	VoiceEnabled bool   `json:"voiceEnabled"`
	ForceModel   string `json:"forceModel"`
}

type chatResponse struct {
	Response         string `json:"response"`
	VoiceEnabled     bool   `json:"voiceEnabled"`
	Model            string `json:"model,omitempty"`
	ModelDisplayName string `json:"modelDisplayName,omitempty"`
	AudioURL         string `json:"audioUrl,omitempty"`
}

// handleChat runs the full pipeline: validate, classify, route,
// generate, persist, respond. Persistence failures after a successful
// generation are logged but never fail the request.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	identity := session.FromContext(ctx)
	structured := content.IsStructured(message)

	override := payload.ForceModel
	if override == "" {
		override = h.currentOverride()
	}
	decision := routing.Route(message, override, h.models)
	hosted := h.gen.Name() == config.BackendArk

	reply, err := h.gen.Generate(ctx, message, decision.Tier)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var audioURL string
	if payload.VoiceEnabled && h.synth != nil {
		tts, err := h.synth.Synthesize(ctx, &speechmodel.TTSRequest{Text: reply})
		if err != nil {
			log.Printf("[chat] tts failed, responding without audio: %v", err)
		} else {
			audioURL = tts.AudioURL
		}
	}

	userRow := chatmodel.Message{
		UserID:     h.cfg.UserID,
		Type:       chatmodel.TypeUser,
		Text:       message,
		Structured: structured,
		SessionID:  identity.SessionID,
	}
	aiRow := chatmodel.Message{
		UserID:     h.cfg.UserID,
		Type:       chatmodel.TypeAI,
		Text:       reply,
		Structured: content.IsStructured(reply),
		AudioURL:   audioURL,
		SessionID:  identity.SessionID,
	}
	if hosted {
		aiRow.Model = decision.Model
	}
	h.persistExchange(ctx, userRow, aiRow)

	resp := chatResponse{
		Response:     reply,
		VoiceEnabled: payload.VoiceEnabled,
		AudioURL:     audioURL,
	}
	if hosted {
		resp.Model = decision.Model
		resp.ModelDisplayName = decision.DisplayName
		if h.cfg.AnnotateModel {
			resp.Response = reply + "\n\n[" + decision.DisplayName + "]"
		}
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// persistExchange appends the user and ai rows, in that order. Both
// writes are fail-soft: the reply has already been generated, so a
// storage failure is logged and the caller still gets the response.
func (h *Handler) persistExchange(ctx context.Context, userRow, aiRow chatmodel.Message) {
	if _, err := h.store.InsertMessage(ctx, userRow); err != nil {
		log.Printf("[chat] failed to persist user message: %v", err)
	}
	if _, err := h.store.InsertMessage(ctx, aiRow); err != nil {
		log.Printf("[chat] failed to persist ai message: %v", err)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := h.store.ListRecent(r.Context(), h.cfg.UserID, storage.MaxListLimit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", 50)
	offset := parseQueryInt(r, "offset", 0)

	page, err := h.store.ListPage(r.Context(), h.cfg.UserID, limit, offset)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"messages": page.Messages,
		"hasMore":  page.HasMore,
		"offset":   page.NextOffset,
	})
}

type saveMessageRequest struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Structured *bool  `json:"structured"`
	AudioURL   string `json:"audio_url"`
	Model      string `json:"model"`
}

// handleSaveMessage lets the client append a single turn directly,
// e.g. when replaying offline history.
func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload saveMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Type == "" || payload.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "type and text are required")
		return
	}

	structured := content.IsStructured(payload.Text)
	if payload.Structured != nil {
		structured = *payload.Structured
	}

	identity := session.FromContext(r.Context())
	id, err := h.store.InsertMessage(r.Context(), chatmodel.Message{
		UserID:     h.cfg.UserID,
		Type:       payload.Type,
		Text:       payload.Text,
		Structured: structured,
		AudioURL:   payload.AudioURL,
		SessionID:  identity.SessionID,
		Model:      payload.Model,
	})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

type syncRequest struct {
	SessionID string `json:"session_id"`
	LastSeen  *int64 `json:"last_seen"` // unix milliseconds
}

// handleSync upserts the session row for a client-supplied token.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var payload syncRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	lastSeen := time.Now().UTC()
	if payload.LastSeen != nil {
		lastSeen = time.UnixMilli(*payload.LastSeen).UTC()
	}

	identity := session.FromContext(r.Context())
	err := h.store.UpsertSession(r.Context(), chatmodel.Session{
		UserID:    h.cfg.UserID,
		DeviceID:  identity.DeviceID,
		SessionID: payload.SessionID,
		LastSeen:  lastSeen,
	})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleDeleteHistory bulk-deletes messages older than the cutoff.
// olderThan accepts unix milliseconds or RFC 3339.
func (h *Handler) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("olderThan")
	if raw == "" {
		utils.RespondError(w, http.StatusBadRequest, "olderThan is required")
		return
	}

	cutoff, err := parseTimestamp(raw)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid olderThan value")
		return
	}

	deleted, err := h.store.DeleteOlderThan(r.Context(), h.cfg.UserID, cutoff)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

type switchModelRequest struct {
	Model string `json:"model"`
}

// handleSwitchModel stores a default tier override for subsequent chat
// requests. Unrecognized names silently fall back to lite.
func (h *Handler) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var payload switchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tier, known := routing.ResolveOverride(payload.Model)
	reason := "manual override"
	if !known {
		reason = "unknown model, falling back to lite"
	}

	h.mu.Lock()
	h.override = string(tier)
	h.mu.Unlock()

	info := h.models.Info(tier)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"model":     string(tier),
		"modelName": info.ID,
		"reason":    reason,
	})
}

func (h *Handler) currentOverride() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.override
}

func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseTimestamp(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
