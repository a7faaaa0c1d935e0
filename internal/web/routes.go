package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/rollcall/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	attendanceHandler := handlers.NewAttendanceHandler(
		s.pipeline, s.fetcher, s.validate, s.config.Match.Thresholds, s.sessions, s.log)
	registerHandler := handlers.NewRegisterHandler(s.pipeline, s.fetcher, s.validate, s.log)
	historyHandler := handlers.NewHistoryHandler(s.sessions, s.faces, s.validate, s.log)

	s.router.Get("/", handlers.Root)
	s.router.Get("/health", handlers.HealthCheck)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/attendance", attendanceHandler.Process)
		r.Post("/register", registerHandler.Register)
		r.Post("/register/batch", registerHandler.RegisterBatch)
		r.Post("/verify", registerHandler.Verify)
		r.Get("/strategies", handlers.Strategies)

		// Session history
		r.Get("/sessions", historyHandler.List)
		r.Get("/sessions/{id}", historyHandler.Get)
		r.Delete("/sessions/{id}", historyHandler.Delete)
		r.Post("/faces/similar", historyHandler.Similar)
	})
}
