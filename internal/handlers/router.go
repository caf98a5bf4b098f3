// internal/handlers/router.go
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/metrics"
	"github.com/QuincyvanDeursen/diceonline/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Service LobbyService
	// Hub serves the /gamehub websocket endpoint.
	Hub     http.Handler
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger

	// AllowedOrigins are host patterns such as "localhost:*" or "*.example.com".
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts the lobby REST API, the websocket hub, health and metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	v := NewValidator()

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(logger))
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(cfg.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", HealthHandler())
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	// The websocket route stays outside the timeout and the instrumented writer.
	if cfg.Hub != nil {
		r.Method(http.MethodGet, "/gamehub", cfg.Hub)
	}

	r.Route("/lobbies", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.RequestTimeout(cfg.RequestTimeout))
		}
		mount := func(method, pattern string, h http.HandlerFunc) {
			var handler http.Handler = h
			if cfg.Metrics != nil {
				handler = cfg.Metrics.Instrument("/lobbies"+pattern, handler)
			}
			r.Method(method, pattern, handler)
		}
		mount(http.MethodPost, "/", CreateLobbyHandler(cfg.Service, v, logger))
		mount(http.MethodPost, "/join", JoinLobbyHandler(cfg.Service, v, logger))
		mount(http.MethodPost, "/leave", LeaveLobbyHandler(cfg.Service, v, logger))
		mount(http.MethodPost, "/roll", RollDiceHandler(cfg.Service, v, logger))
		mount(http.MethodPost, "/message", SendMessageHandler(cfg.Service, v, logger))
		mount(http.MethodGet, "/{lobbyCode}", GetLobbyHandler(cfg.Service, logger))
	})

	return r
}

// corsOrigins expands scheme-less host patterns into the http and https origins cors expects.
func corsOrigins(patterns []string) []string {
	out := make([]string, 0, 2*len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*":
			out = append(out, "*")
		case strings.Contains(p, "://"):
			out = append(out, p)
		default:
			out = append(out, "http://"+p, "https://"+p)
		}
	}
	return out
}
