package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"groupremind/internal/core"
)

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.Store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if groups == nil {
		groups = []core.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	g, err := s.Store.CreateGroup(r.Context(), strings.TrimSpace(in.Name))
	if err != nil {
		s.groupError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) updateGroup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	g, err := s.Store.UpdateGroup(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(in.Name))
	if err != nil {
		s.groupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.groupError(w, err)
		return
	}
	// group membership changed under every reminder referencing it
	s.Cache.InvalidateAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) groupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "group_not_found")
	case errors.Is(err, core.ErrDuplicate):
		writeError(w, http.StatusConflict, "group_name_taken")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
