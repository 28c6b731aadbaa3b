package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindfriend/backend/internal/handler/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/handler/persona"
	"github.com/zhouzirui/mindfriend/backend/internal/handler/stats"
	"github.com/zhouzirui/mindfriend/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/mindfriend/backend/internal/middleware"
	personaModel "github.com/zhouzirui/mindfriend/backend/internal/model/persona"
	"github.com/zhouzirui/mindfriend/backend/pkg/utils"
)

// Responder is the command layer as seen by the HTTP and WebSocket routes.
type Responder interface {
	chat.Responder
	ws.Responder
}

// Services are the dependencies the routes call into.
type Services struct {
	Persona   personaModel.Persona
	Responder Responder
	History   chat.History
	Stats     stats.Aggregator
	Moods     stats.MoodRecorder
	// Breaker reports the reply generator's circuit state on /healthz. Optional.
	Breaker interface{ BreakerState() string }
}

// NewRouter wires HTTP routes to core services. limiter may be nil.
func NewRouter(svc Services, limiter *middlewarePkg.RateLimiter, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.With().Str("component", "http").Logger()))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if svc.Breaker != nil {
			body["generator"] = svc.Breaker.BreakerState()
		}
		utils.RespondJSON(w, http.StatusOK, body)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(limiter.Handler)

		persona.New(svc.Persona).RegisterRoutes(api)
		chat.New(svc.Responder, svc.History).RegisterRoutes(api)
		stats.New(svc.Stats, svc.Moods).RegisterRoutes(api)
		ws.New(svc.Responder, logger).RegisterRoutes(api)
	})

	return r
}
