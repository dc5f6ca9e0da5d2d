package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/claude/fitcycle/internal/sensorfeed"
	"github.com/claude/fitcycle/internal/steps"
	"github.com/claude/fitcycle/internal/workout"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	workouts *workout.Engine
	steps    *steps.Engine
	feed     *sensorfeed.Feed
	log      *slog.Logger
	apiKey   string
	whois    WhoIser
	router   chi.Router
}

// New creates a new Server with all routes configured.
func New(workouts *workout.Engine, stepEngine *steps.Engine, feed *sensorfeed.Feed, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		workouts: workouts,
		steps:    stepEngine,
		feed:     feed,
		log:      log,
		apiKey:   apiKey,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// SetTailscale makes the server identify callers through the tailnet.
// Without it every caller is the local dev user.
func (s *Server) SetTailscale(whois WhoIser) {
	s.whois = whois
}

// MountMCP serves an MCP transport at /mcp behind the same identity
// middleware as the REST API.
func (s *Server) MountMCP(h http.Handler) {
	s.router.Handle("/mcp", h)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)
	s.router.Use(s.identity)

	s.router.Get("/api/v1/me", s.handleMe)

	s.router.Route("/api/v1/workout", func(r chi.Router) {
		r.Get("/today", s.handleWorkoutToday)
		r.Get("/progress", s.handleWorkoutProgress)
		r.Get("/history", s.handleWorkoutHistory)
		r.Post("/toggle", s.handleToggle)
		r.Post("/refresh", s.handleRefresh)
	})
	s.router.Put("/api/v1/profile", s.handleUpdateProfile)

	s.router.Get("/api/v1/steps", s.handleSteps)
	s.router.Put("/api/v1/steps/goal", s.handleSetGoal)
	s.router.Get("/api/v1/steps/history", s.handleStepHistory)

	s.router.Post("/api/v1/resume", s.handleResume)

	// Sensor ingest (API key required)
	s.router.Route("/api/v1/sensor", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))
		r.Post("/readings", s.handleReadings)
		r.Post("/total", s.handleTotal)
		r.Post("/availability", s.handleAvailability)
		r.Post("/hae", s.handleHAEIngest)
	})
}

func (s *Server) identity(next http.Handler) http.Handler {
	dev := DevIdentity(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.whois == nil {
			dev.ServeHTTP(w, r)
			return
		}
		TailscaleIdentity(s.whois, s.log)(next).ServeHTTP(w, r)
	})
}
