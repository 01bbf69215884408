package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"hostingspace/app/internal/auth"
	"hostingspace/app/internal/sites"
)

// TokenVerifier resolves a bearer token to the caller's identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// StorePinger reports whether the published-site store is reachable.
type StorePinger interface {
	Connect(ctx context.Context) error
}

// Options configures the HTTP server wiring.
type Options struct {
	Service     sites.Service
	Verifier    TokenVerifier
	Database    *gorm.DB
	Store       StorePinger
	Logger      *logrus.Logger
	SentryHub   *sentry.Hub
	RateLimiter RateLimiterSettings
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server wires the HTTP transport layer via Huma on a chi router.
type Server struct {
	api         huma.API
	router      chi.Router
	sites       sites.Service
	verifier    TokenVerifier
	logger      *logrus.Logger
	sentry      *sentry.Hub
	db          *gorm.DB
	store       StorePinger
	rateLimiter *RateLimiter
}

const bearerScheme = "bearer"

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, eris.New("sites service is required")
	}
	if opts.Verifier == nil {
		return nil, eris.New("token verifier is required")
	}
	if opts.Database == nil {
		return nil, eris.New("database is required")
	}

	settings := opts.RateLimiter
	if settings.Burst <= 0 {
		return nil, eris.New("rate limiter burst must be greater than zero")
	}
	if settings.RequestsPerSecond <= 0 {
		return nil, eris.New("rate limiter requests per second must be greater than zero")
	}
	if settings.ClientTTL <= 0 {
		return nil, eris.New("rate limiter client TTL must be greater than zero")
	}

	router := chi.NewRouter()
	config := huma.DefaultConfig("Hosting Space", "1.0.0")
	config.OpenAPIPath = "/api/openapi"
	config.DocsPath = "/api/docs"
	config.SchemasPath = "/api/schemas"
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		bearerScheme: {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}

	srv := &Server{
		api:         humachi.New(router, config),
		router:      router,
		sites:       opts.Service,
		verifier:    opts.Verifier,
		logger:      opts.Logger,
		sentry:      opts.SentryHub,
		db:          opts.Database,
		store:       opts.Store,
		rateLimiter: NewRateLimiter(settings),
	}

	srv.registerMiddlewares()
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.router
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Close stops background maintenance owned by the server.
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.rateLimitMiddleware(),
		s.loggingMiddleware(),
		s.authMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	s.registerHealthRoute()
	s.registerAvailabilityRoute()
	s.registerSiteRoutes()
	s.registerSettingsRoutes()
	s.registerPublicSiteRoute()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.router.ServeHTTP(w, r)
}
