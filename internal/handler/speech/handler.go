package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/kirachat/backend/internal/model/speech"
	"github.com/kirachat/backend/pkg/utils"
)

// Synthesizer abstracts the TTS backend for testing.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
	Voice() string
}

// Handler serves the text-to-speech endpoint.
type Handler struct {
	synth Synthesizer
}

// New creates the speech handler.
func New(synth Synthesizer) *Handler {
	return &Handler{synth: synth}
}

// RegisterRoutes mounts the speech routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tts", h.handleSynthesize)
}

type ttsRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var payload ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	resp, err := h.synth.Synthesize(r.Context(), &speechmodel.TTSRequest{Text: payload.Text})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"audioUrl": resp.AudioURL,
		"voice":    resp.Voice,
	})
}
