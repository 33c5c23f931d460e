package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bcnelson/membership-manager/internal/api/handler"
	"github.com/bcnelson/membership-manager/internal/api/middleware"
	"github.com/bcnelson/membership-manager/internal/auth"
	"github.com/bcnelson/membership-manager/internal/notify"
	"github.com/bcnelson/membership-manager/internal/service"
	"github.com/bcnelson/membership-manager/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Options tunes the router.
type Options struct {
	// Verifier enables bearer ID tokens when non-nil.
	Verifier auth.TokenVerifier
	// BatchSize bounds concurrent notifications during group deletion.
	BatchSize int
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(store storage.Storage, notifier notify.Notifier, opts Options) http.Handler {
	principals := service.NewPrincipalService(store)
	memberships := service.NewMembershipService(store)
	groups := service.NewGroupService(store)
	deletion := service.NewGroupDeletionService(store, notifier, opts.BatchSize)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging)
	r.Use(chimw.Recoverer)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Identity(principals, opts.Verifier))

		// Principals
		principalHandler := handler.NewPrincipalHandler(principals)
		r.Put("/principals", principalHandler.Upsert)
		r.Get("/principals", principalHandler.Get)

		memberHandler := handler.NewMemberHandler(memberships)
		groupHandler := handler.NewGroupHandler(groups, deletion)

		// Reads
		r.Get("/groups", groupHandler.List)
		r.Get("/groups/{group_id}", groupHandler.Get)
		r.Get("/groups/{group_id}/members", memberHandler.ListByGroup)
		r.Get("/members/export", memberHandler.Export)

		// Mutations need a known requester
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePrincipal)

			r.Post("/members", memberHandler.Create)
			r.Post("/memberships", memberHandler.AddToGroup)

			r.Post("/groups", groupHandler.Create)
			r.Delete("/groups/{group_id}", groupHandler.Delete)
			r.Post("/groups/{group_id}/members/new", memberHandler.CreateInGroup)
			r.Delete("/groups/{group_id}/members/{member_id}", memberHandler.RemoveFromGroup)
		})
	})

	return r
}
