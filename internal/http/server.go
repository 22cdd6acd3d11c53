package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"groupremind/internal/cache"
	"groupremind/internal/core"
	"groupremind/internal/dispatch"
)

type Server struct {
	Store  *core.Store
	Engine *dispatch.Engine
	Cache  *cache.RecipientCache
	Logger *logrus.Logger
}

func NewServer(store *core.Store, engine *dispatch.Engine, recCache *cache.RecipientCache, logger *logrus.Logger) *Server {
	return &Server{Store: store, Engine: engine, Cache: recCache, Logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(instrument)

	s.mountHealth(r)
	s.mountMetrics(r)

	r.Route("/api", func(r chi.Router) {
		r.Post("/reminders", s.createReminder)
		r.Get("/reminders", s.listReminders)
		r.Post("/reminders/send_due", s.sendDue)
		r.Get("/reminders/{id}", s.getReminder)
		r.Put("/reminders/{id}", s.updateReminder)
		r.Patch("/reminders/{id}", s.patchReminder)
		r.Delete("/reminders/{id}", s.deleteReminder)
		r.Post("/reminders/{id}/send", s.sendNow)

		r.Get("/groups", s.listGroups)
		r.Post("/groups", s.createGroup)
		r.Put("/groups/{id}", s.updateGroup)
		r.Delete("/groups/{id}", s.deleteGroup)

		r.Get("/recipients", s.listRecipients)
		r.Post("/recipients", s.createRecipient)
		r.Put("/recipients/{id}", s.updateRecipient)
		r.Delete("/recipients/{id}", s.deleteRecipient)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
