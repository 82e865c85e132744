/*
server.go - HTTP router, middleware and logger configuration

PURPOSE:
  Wires URLs to handlers. This is the only place that knows which role may
  call which route.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  httplog, ECS schema, on the shared slog logger
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. CleanPath:      Collapses duplicate slashes
  5. CORS:           Cross-origin requests for the frontend

AUTHENTICATION:
  Everything under /api needs "Authorization: Bearer <jwt>". jwtauth
  verifies the signature and expiry, then authenticate loads the caller.
  /health is public.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Tokens and role middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"io"
	"log/slog"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"

	"github.com/warp/absence-engine/absence"
)

// NewLogger builds the JSON logger shared by the request logger and the
// services, with ECS field names.
func NewLogger(w io.Writer, level, env, version string) *slog.Logger {
	logFormat := httplog.SchemaECS.Concise(env != "production")
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "absence-engine"),
		slog.String("version", version),
		slog.String("env", env),
	)
}

// ParseLevel maps LOG_LEVEL onto slog levels; unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type RouterOptions struct {
	Logger      *slog.Logger
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = h.Logger
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(jwtauth.Verifier(h.Tokens.JWTAuth()))
		r.Use(h.authenticate)

		managers := requireRole(absence.RoleAdmin, absence.RoleProjectManager)
		admins := requireRole(absence.RoleAdmin)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.With(admins).Post("/", h.CreateUser)
			r.Get("/me", h.GetMe)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/projects", h.ListUserProjects)
			r.Get("/{id}/assignments", h.ListUserAssignments)
			r.Get("/{id}/events", h.ListUserEvents)
			r.Get("/{id}/meal-vouchers", h.GetUserMealVouchers)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.With(admins).Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
		})

		r.Route("/project-users", func(r chi.Router) {
			r.Get("/", h.ListAssignments)
			r.With(managers).Post("/", h.CreateAssignment)
			r.Get("/{id}", h.GetAssignment)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/availability", h.CheckAvailability)
			r.Get("/{id}", h.GetEvent)
			r.With(managers).Get("/{id}/eligibility", h.GetEventEligibility)
			r.With(managers).Post("/{id}/validate", h.ValidateEvent)
			r.With(managers).Post("/{id}/decline", h.DeclineEvent)
		})

		r.Group(func(r chi.Router) {
			r.Use(admins)
			r.Get("/payroll/meal-vouchers", h.MonthlyMealVouchers)
			r.Get("/audit", h.ListAudit)
			r.Get("/policy", h.GetPolicy)
			r.Get("/scenarios", h.ListScenarios)
			r.Post("/scenarios/load", h.LoadScenario)
		})
	})

	return r
}
