package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/fakeakv/internal/storage"
	"github.com/rs/zerolog/log"
)

// APIVersion is the vault REST API version the emulator reports.
const APIVersion = "7.4"

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	// BaseURL, when set, overrides request-derived id URL construction.
	BaseURL string
	// RequireAuth enables the bearer-challenge middleware that the Azure SDK
	// credential chain expects. No token is ever validated beyond presence.
	RequireAuth bool
}

// Server is the emulator's HTTP front end over a SecretStore.
type Server struct {
	store   storage.SecretStore
	cfg     Config
	httpSrv *http.Server
}

// NewServer wires a Server over the given backend.
func NewServer(store storage.SecretStore, cfg Config) *Server {
	return &Server{store: store, cfg: cfg}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)

	// Prometheus metrics and status (unauthenticated)
	r.Handle("/metrics", MetricsHandler())
	r.Get("/", s.StatusHandler)

	// Vault API surface
	r.Group(func(r chi.Router) {
		r.Use(apiVersionMiddleware)
		if s.cfg.RequireAuth {
			r.Use(requireAuthMiddleware)
		}

		r.Put("/secrets/{name}", s.CreateSecretHandler)
		r.Get("/secrets", s.ListSecretsHandler)
		r.Get("/secrets/{name}", s.GetSecretHandler)
		r.Get("/secrets/{name}/versions", s.ListVersionsHandler)
		r.Get("/secrets/{name}/{version}", s.GetVersionHandler)
		r.Delete("/secrets/{name}", s.DeleteSecretHandler)

		r.Get("/deletedsecrets/{name}", s.GetDeletedSecretHandler)
		r.Post("/deletedsecrets/{name}/recover", s.RecoverSecretHandler)
	})

	return r
}

// StatusHandler handles GET /
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountSecrets(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("counting secrets for status")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "fake-akv",
		"status":      "ok",
		"api-version": APIVersion,
		"secrets":     count,
	})
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
