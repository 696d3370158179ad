// SPDX-License-Identifier: MIT

// Package api provides the HTTP transport for the streaming engine: the
// SSE subscribe endpoint, the publish endpoint and the operational surface.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/seqstream/internal/auth"
	"github.com/ManuGH/seqstream/internal/config"
	xglog "github.com/ManuGH/seqstream/internal/log"
	"github.com/ManuGH/seqstream/internal/stream"
)

// Server wires the engine and the authenticator behind the HTTP routes.
type Server struct {
	engine *stream.Engine
	authn  *auth.Authenticator
	tokens *auth.StreamTokenService // nil when no stream token secret is set
	cfg    config.Config
	logger zerolog.Logger
}

// NewServer builds the HTTP server facade. tokens may be nil; the embedded
// credential carrier and token issuance are disabled then.
func NewServer(cfg config.Config, engine *stream.Engine, tokens *auth.StreamTokenService) *Server {
	return &Server{
		engine: engine,
		authn:  auth.NewAuthenticator(cfg.APIToken, tokens),
		tokens: tokens,
		cfg:    cfg,
		logger: xglog.WithComponent("api"),
	}
}

// Router constructs the chi router with the full middleware stack applied.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitPerMin > 0 {
			r.Use(httprate.Limit(
				s.cfg.RateLimitPerMin,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(rateLimited),
			))
		}

		if s.cfg.DebugTopics {
			r.Get("/stream/_topics", s.handleTopics)
		}
		r.Get("/stream/{topic}", s.handleStream)
		r.Post("/stream/{topic}", s.handlePublish)
		r.Post("/auth/stream-token", s.handleStreamToken)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": string(s.engine.Backend()),
	})
}
