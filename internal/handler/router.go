package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	chatHandler "github.com/kirachat/backend/internal/handler/chat"
	speechHandler "github.com/kirachat/backend/internal/handler/speech"
	streamHandler "github.com/kirachat/backend/internal/handler/stream"

	"github.com/kirachat/backend/internal/config"
	"github.com/kirachat/backend/internal/middleware"
	"github.com/kirachat/backend/internal/service/generate"
	speechservice "github.com/kirachat/backend/internal/service/speech"
	"github.com/kirachat/backend/internal/session"
	"github.com/kirachat/backend/internal/storage"
	"github.com/kirachat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. speechSvc may be nil
// when TTS credentials are not configured.
func NewRouter(cfg *config.Config, store *storage.Store, gen generate.Generator, speechSvc *speechservice.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	var synth chatHandler.Synthesizer
	if speechSvc != nil {
		synth = speechSvc
	}
	chat := chatHandler.New(store, gen, synth, cfg.Chat, cfg.AI.Models)

	r.Route("/api", func(api chi.Router) {
		// Every API request gets an identity up front and a session
		// heartbeat once the handler has finished.
		api.Use(session.Middleware(store, cfg.Chat.UserID))

		chat.RegisterRoutes(api)

		if speechSvc != nil {
			speechHandler.New(speechSvc).RegisterRoutes(api)
		} else {
			api.Post("/tts", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "speech service not configured")
			})
		}

		if streamer, ok := gen.(generate.Streamer); ok {
			sh := streamHandler.New(streamer, store, cfg.AI.Models, cfg.Chat.UserID)
			api.Get("/chat/stream", sh.HandleStream)
		} else {
			api.Get("/chat/stream", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "streaming requires the hosted backend")
			})
		}

		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":    "ok",
				"generator": gen.Name(),
				"speech":    speechSvc != nil,
			})
		})
	})

	r.Handle("/*", staticHandler(cfg.Server.StaticDir))

	return r
}

// staticHandler serves the web client. Assets are served uncached so a
// redeploy is picked up on the next page load.
func staticHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		fs.ServeHTTP(w, r)
	})
}
