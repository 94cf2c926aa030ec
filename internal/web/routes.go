package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/ratelimit"
	"github.com/kozaktomas/missing-persons/internal/web/handlers"
	"github.com/kozaktomas/missing-persons/internal/web/middleware"
	"github.com/kozaktomas/missing-persons/internal/web/static"
)

func (s *Server) setupRoutes(sessionManager *middleware.SessionManager) {
	cfg := s.config
	d := s.deps

	// Create handlers
	authHandler := handlers.NewAuthHandler(d.Accounts, sessionManager, d.Metrics, s.logger)
	personsHandler := handlers.NewPersonsHandler(d.Reports, cfg.Uploads.MaxBytes, s.logger)
	searchHandler := handlers.NewSearchHandler(d.Reports, cfg.Uploads.MaxBytes, s.logger)
	pagesHandler := handlers.NewPagesHandler(handlers.PagesDeps{
		Accounts:       d.Accounts,
		Reports:        d.Reports,
		SessionManager: sessionManager,
		Metrics:        d.Metrics,
		Templates:      s.templates,
		MaxBytes:       cfg.Uploads.MaxBytes,
		Logger:         s.logger,
	})

	// Login attempts share one per-IP budget across the page and the API
	loginLimiter := ratelimit.New(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst, 0)
	limitLogin := middleware.RateLimit(loginLimiter, func(r *http.Request) {
		d.Metrics.Logins.WithLabelValues(metrics.OutcomeRateLimit).Inc()
	})

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	s.router.Handle("/assets/*", http.StripPrefix("/assets", http.FileServer(static.GetFileSystem())))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.With(limitLogin).Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		// All other routes require authentication
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionManager))

			r.Get("/persons", personsHandler.List)
			r.Post("/persons", personsHandler.Create)
			r.Get("/persons/{id}", personsHandler.Get)
			r.Delete("/persons/{id}", personsHandler.Delete)
			r.Get("/persons/{id}/image", personsHandler.Image)
			r.Put("/persons/{id}/found", personsHandler.SetFound)
			r.Get("/persons/{id}/matches", personsHandler.Matches)

			r.Post("/search", searchHandler.Search)
		})
	})

	// HTML pages
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.LoadSession(sessionManager))

		r.Get("/", pagesHandler.Index)
		r.Get("/login", pagesHandler.LoginForm)
		r.With(limitLogin).Post("/login", pagesHandler.Login)
		r.Get("/register", pagesHandler.RegisterForm)
		r.Post("/register", pagesHandler.Register)
		r.Get("/logout", pagesHandler.Logout)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.RequireLogin(sessionManager, "/login"))

		r.Get("/home", pagesHandler.Home)
		r.Get("/update_missing", pagesHandler.UpdateMissingForm)
		r.Post("/update_missing", pagesHandler.UpdateMissing)
		r.Get("/search_missing", pagesHandler.SearchMissingForm)
		r.Post("/search_missing", pagesHandler.SearchMissing)
	})
}
