/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin and parent frontends

ROUTE GROUPS:
  /api/terms/*          Academic terms
  /api/students         Student directory
  /api/availability     Room/teacher availability
  /api/lessons/*        Lessons, enrollments, reschedules, hybrid weeks
  /api/bookings/*       Individual hybrid bookings
  /api/scenarios/*      Demo scenarios

  Admin-only routes are wrapped in requireAdmin (see handlers.go).

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/terms", func(r chi.Router) {
			r.With(requireAdmin).Post("/", h.CreateTerm)
			r.Get("/{id}", h.GetTerm)
		})

		r.With(requireAdmin).Post("/students", h.CreateStudent)
		r.Get("/availability", h.CheckAvailability)

		r.Route("/lessons", func(r chi.Router) {
			r.Get("/", h.ListLessons)
			r.With(requireAdmin).Post("/", h.CreateLesson)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetLesson)
				r.With(requireAdmin).Patch("/", h.UpdateLesson)
				r.With(requireAdmin).Delete("/", h.DeactivateLesson)
				r.Get("/capacity", h.GetCapacity)

				r.Post("/reschedule/check", h.CheckReschedule)
				r.With(requireAdmin).Post("/reschedule", h.RescheduleLesson)

				r.Route("/enrollments", func(r chi.Router) {
					r.Get("/", h.ListEnrollments)
					r.Post("/", h.Enroll)
					r.Post("/bulk", h.BulkEnroll)
					r.Delete("/{studentID}", h.Unenroll)
				})

				r.Route("/pattern", func(r chi.Router) {
					r.Get("/", h.GetPattern)
					r.With(requireAdmin).Put("/", h.PutPattern)
					r.With(requireAdmin).Post("/open", h.OpenBookings)
					r.With(requireAdmin).Post("/close", h.CloseBookings)
				})

				r.Route("/weeks/{week}", func(r chi.Router) {
					r.Get("/slots", h.ListSlots)
					r.Get("/bookings", h.ListWeekBookings)
					r.Post("/bookings", h.CreateBooking)
					r.Get("/unbooked", h.ListUnbooked)
					r.With(requireAdmin).Post("/remind", h.RemindWeek)
				})
			})
		})

		r.Route("/bookings/{id}", func(r chi.Router) {
			r.Get("/", h.GetBooking)
			r.Post("/reschedule", h.RescheduleBooking)
			r.Post("/cancel", h.CancelBooking)
			r.With(requireAdmin).Post("/confirm", h.ConfirmBooking)
			r.With(requireAdmin).Post("/outcome", h.RecordOutcome)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(requireAdmin).Post("/load", h.LoadScenario)
			r.With(requireAdmin).Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
