package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/lockbox/internal/api/handler"
	mw "github.com/kiranshivaraju/lockbox/internal/api/middleware"
	"github.com/kiranshivaraju/lockbox/internal/api/response"
	"github.com/kiranshivaraju/lockbox/internal/auth"
)

// HealthPath is served unauthenticated and left out of the activity log.
const HealthPath = "/api/v1/health"

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Audit     *mw.Audit

	HealthHandler http.HandlerFunc
	Projects      *handler.Projects
	Secrets       *handler.Secrets
	Devices       *handler.Devices
	Tokens        *handler.Tokens
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware. Audit sits outside Recovery so a recovered panic
	// is still recorded as a 500.
	r.Use(mw.Logger)
	if deps.Audit != nil {
		r.Use(deps.Audit.Capture)
	}
	r.Use(mw.Recovery)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.HealthHandler))

		// Device bootstrap: no credential exists yet.
		r.Post("/devices", deps.Devices.Register)
		r.Get("/projects/{project}/devices/{deviceID}/status", deps.Devices.Status)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate)
			r.Use(deps.RateLimit.Limit)

			r.Get("/projects", deps.Projects.List)
			r.Get("/projects/{project}", deps.Projects.Get)

			r.Post("/projects/{project}/secrets", deps.Secrets.Put)
			r.Get("/projects/{project}/secrets", deps.Secrets.List)
			r.Get("/projects/{project}/secrets/{key}", deps.Secrets.Get)
			r.Delete("/projects/{project}/secrets/{key}", deps.Secrets.Delete)

			r.Get("/projects/{project}/tokens", deps.Tokens.ListProject)

			r.Get("/projects/{project}/devices", deps.Devices.List)
			r.Get("/projects/{project}/devices/{deviceID}", deps.Devices.Get)
			r.Patch("/projects/{project}/devices/{deviceID}/authorize", deps.Devices.Authorize)
			r.Patch("/projects/{project}/devices/{deviceID}/reject", deps.Devices.Reject)
			r.Delete("/projects/{project}/devices/{deviceID}", deps.Devices.Delete)

			// Master routes
			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.RequireTier(auth.TierMaster))

				r.Post("/projects", deps.Projects.Create)
				r.Patch("/projects/{project}", deps.Projects.Update)
				r.Delete("/projects/{project}", deps.Projects.Delete)

				r.Post("/projects/{project}/tokens", deps.Tokens.CreateProject)
				r.Delete("/projects/{project}/tokens/{tokenID}", deps.Tokens.RevokeProject)

				r.Post("/master-tokens", deps.Tokens.CreateMaster)
				r.Get("/master-tokens", deps.Tokens.ListMaster)
				r.Delete("/master-tokens/{tokenID}", deps.Tokens.RevokeMaster)
				r.Post("/master-tokens/{tokenID}/rotate", deps.Tokens.RotateMaster)
			})
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
