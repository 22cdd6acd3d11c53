package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"groupremind/internal/core"
)

type recipientBody struct {
	Name    string `json:"name"`
	ChatID  string `json:"chat_id"`
	GroupID string `json:"group_id"`
}

func (b recipientBody) validate() string {
	if strings.TrimSpace(b.Name) == "" {
		return "name_required"
	}
	if strings.TrimSpace(b.ChatID) == "" {
		return "chat_id_required"
	}
	if b.GroupID == "" {
		return "group_id_required"
	}
	return ""
}

func (s *Server) listRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := s.Store.ListRecipients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recipients == nil {
		recipients = []core.Recipient{}
	}
	writeJSON(w, http.StatusOK, recipients)
}

func (s *Server) createRecipient(w http.ResponseWriter, r *http.Request) {
	var in recipientBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	rec, err := s.Store.CreateRecipient(r.Context(), strings.TrimSpace(in.Name), strings.TrimSpace(in.ChatID), in.GroupID)
	if err != nil {
		s.recipientError(w, err)
		return
	}
	s.Cache.InvalidateAll(r.Context())
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) updateRecipient(w http.ResponseWriter, r *http.Request) {
	var in recipientBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	rec, err := s.Store.UpdateRecipient(r.Context(), chi.URLParam(r, "id"),
		strings.TrimSpace(in.Name), strings.TrimSpace(in.ChatID), in.GroupID)
	if err != nil {
		s.recipientError(w, err)
		return
	}
	s.Cache.InvalidateAll(r.Context())
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteRecipient(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteRecipient(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.recipientError(w, err)
		return
	}
	s.Cache.InvalidateAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) recipientError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "recipient_not_found")
	case errors.Is(err, core.ErrDuplicate):
		writeError(w, http.StatusConflict, "chat_id_taken")
	case errors.Is(err, core.ErrUnknownGroup):
		writeError(w, http.StatusBadRequest, "unknown_group")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
