package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/outreach-orchestrator/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/outreach-orchestrator/internal/http/middleware"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Health          *handlers.HealthHandler
	Events          *handlers.EventsHandler
	LeadsHandler    *leads.Handler
	AdminOutreach   *handlers.AdminOutreachHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Health.Check)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Without a secret the operator surface is open; it is meant for a
	// single-operator deployment behind a private network.
	operator := func(fn func(chi.Router)) {
		r.Group(func(g chi.Router) {
			if cfg.AdminAuthSecret != "" {
				g.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			}
			fn(g)
		})
	}

	if cfg.Events != nil {
		operator(func(g chi.Router) {
			g.Get("/events", cfg.Events.Stream)
			g.Get("/events/ws", cfg.Events.WebSocket)
			g.Get("/events/history", cfg.Events.History)
		})
	}

	operator(func(g chi.Router) {
		g.Route("/admin", func(admin chi.Router) {
			if cfg.LeadsHandler != nil {
				admin.Route("/leads", func(lr chi.Router) {
					lr.Use(middleware.AllowContentType("application/json"))
					lr.Post("/", cfg.LeadsHandler.UpsertLead)
					lr.Get("/", cfg.LeadsHandler.ListLeads)
					lr.Get("/{leadID}", cfg.LeadsHandler.GetLead)
					lr.Delete("/{leadID}", cfg.LeadsHandler.DeleteLead)
					if cfg.AdminOutreach != nil {
						lr.Post("/{leadID}/follow-up", cfg.AdminOutreach.FollowUp)
					}
				})
			}
			if cfg.AdminOutreach != nil {
				admin.Post("/outreach/login", cfg.AdminOutreach.Login)
				admin.Post("/outreach/send-initial", cfg.AdminOutreach.SendInitial)
				admin.Get("/jobs", cfg.AdminOutreach.Jobs)
				admin.Get("/jobs/runs", cfg.AdminOutreach.Runs)
				admin.Post("/jobs/{job}/trigger", cfg.AdminOutreach.TriggerJob)
			}
		})
	})

	return r
}
