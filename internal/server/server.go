// Package server implements the HTTP transport layer for the gproxy gateway.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/provider"
	"github.com/leenhawk/gproxy/internal/storage"
	"github.com/leenhawk/gproxy/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Reloader applies a storage mutation to the live gateway: rebuilding
// credential pools and the auth snapshot under the single process-wide write
// lock. Wired by cmd/gproxy; admin mutation handlers call it after writing
// to the store so the in-memory state and the database never drift apart.
type Reloader func(ctx context.Context) error

// Sink is the write side the proxy handler hands to each call's
// CallContext. Satisfied by *internal/sink.Sink.
type Sink interface {
	gateway.TrafficSink
	gateway.StateSink
}

// KeyIssuer generates and persists new API keys. Satisfied by
// *internal/app.KeyManager.
type KeyIssuer interface {
	CreateKey(ctx context.Context, userID, orgID, role string) (plaintext string, key *gateway.APIKey, err error)
	DeleteKey(ctx context.Context, id string) error
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth     gateway.Authenticator
	Registry *provider.Registry
	Store    storage.Store // nil = no admin CRUD (for tests)
	Keys     KeyIssuer
	AuthKeys interface { // the subset of auth.APIKeyAuth admin mutations call
		Reload(ctx context.Context) error
	}
	Reload Reloader // nil = POST /reload and PUT /config are unsupported

	Sink           Sink
	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Cache          Cache              // nil = no response caching
	CacheTTL       time.Duration      // 0 = use the package default (5m)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Client-facing API: one generic route per registered provider name,
	// dialect determined by classify.Route from the path shape underneath.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requirePerm(gateway.PermUseModels))
		r.HandleFunc("/{provider}/*", s.handleProxy)
	})

	if deps.Store != nil {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(s.authenticate)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermManageProviders))
				r.Get("/providers", s.handleListProviders)
				r.Post("/providers", s.handleCreateProvider)
				r.Get("/providers/{id}", s.handleGetProvider)
				r.Put("/providers/{id}", s.handleUpdateProvider)
				r.Delete("/providers/{id}", s.handleDeleteProvider)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermManageCredentials))
				r.Get("/providers/{providerID}/credentials", s.handleListCredentials)
				r.Post("/providers/{providerID}/credentials", s.handleCreateCredential)
				r.Get("/credentials/{id}", s.handleGetCredential)
				r.Put("/credentials/{id}", s.handleUpdateCredential)
				r.Delete("/credentials/{id}", s.handleDeleteCredential)

				r.Get("/providers/{providerID}/disallow", s.handleListDisallows)
				r.Post("/providers/{providerID}/disallow", s.handleUpsertDisallow)
				r.Delete("/providers/{providerID}/disallow", s.handleClearDisallow)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermManageAllKeys))
				r.Get("/keys", s.handleListKeys)
				r.Post("/keys", s.handleCreateKey)
				r.Get("/keys/{id}", s.handleGetKey)
				r.Put("/keys/{id}", s.handleUpdateKey)
				r.Delete("/keys/{id}", s.handleDeleteKey)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermManageOrgs))
				r.Get("/config", s.handleGetConfig)
				r.Put("/config", s.handlePutConfig)
				r.Post("/reload", s.handleAdminReload)
				r.Post("/cache/purge", s.handleCachePurge)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermViewAllUsage))
				r.Get("/health", s.handleAdminHealth)
				r.Get("/stats", s.handleStats)
			})
		})
	}

	return r
}

type server struct {
	deps Deps
}
