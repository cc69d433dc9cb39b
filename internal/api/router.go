package api

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/booktranslator/internal/api/middleware"
	"github.com/kiranshivaraju/booktranslator/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit
	// TrustedProxies may set X-Forwarded-For; everyone else is identified by
	// their remote address.
	TrustedProxies []netip.Prefix

	HealthHandler   http.HandlerFunc
	UploadHandler   http.HandlerFunc
	AdmitURLHandler http.HandlerFunc
	ListHandler     http.HandlerFunc
	GetHandler      http.HandlerFunc
	UpdateHandler   http.HandlerFunc
	TriggerHandler  http.HandlerFunc
	DeleteHandler   http.HandlerFunc
	ResetHandler    http.HandlerFunc
	CancelHandler   http.HandlerFunc
	RecordHandler   http.HandlerFunc
	EventsHandler   http.Handler

	// Files serves published artifacts under /files/ when the local storage backend is in use.
	Files http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.ClientIP(deps.TrustedProxies))
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/health", orNotImplemented(deps.HealthHandler))

	if deps.Files != nil {
		r.Handle("/files/*", http.StripPrefix("/files/", deps.Files))
	}

	r.Route("/queue", func(r chi.Router) {
		r.Get("/pending", orNotImplemented(deps.ListHandler))
		r.Get("/pending/{id}", orNotImplemented(deps.GetHandler))
		r.Get("/records/{id}", orNotImplemented(deps.RecordHandler))
		if deps.EventsHandler != nil {
			r.Handle("/events", deps.EventsHandler)
		} else {
			r.Get("/events", orNotImplemented(nil))
		}

		// Mutations are rate limited per client.
		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}

			r.Post("/upload", orNotImplemented(deps.UploadHandler))
			r.Post("/pending", orNotImplemented(deps.AdmitURLHandler))
			r.Patch("/pending/{id}", orNotImplemented(deps.UpdateHandler))
			r.Post("/translate/{id}", orNotImplemented(deps.TriggerHandler))
			r.Delete("/pending/{id}", orNotImplemented(deps.DeleteHandler))
			r.Post("/pending/{id}/reset", orNotImplemented(deps.ResetHandler))
			r.Post("/cancel/{id}", orNotImplemented(deps.CancelHandler))
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
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
