package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"groupremind/internal/core"
	"groupremind/internal/dispatch"
)

type reminderBody struct {
	Text                  string   `json:"text"`
	DueTime               string   `json:"due_time"`
	GroupIDs              []string `json:"group_ids"`
	RepeatIntervalMinutes int      `json:"repeat_interval_minutes"`
	MaxRepeats            int      `json:"max_repeats"`
}

func (b reminderBody) params() (core.ReminderParams, string) {
	text := strings.TrimSpace(b.Text)
	if text == "" {
		return core.ReminderParams{}, "text_required"
	}
	if b.DueTime == "" {
		return core.ReminderParams{}, "due_time_required"
	}
	due, err := time.Parse(time.RFC3339, b.DueTime)
	if err != nil {
		return core.ReminderParams{}, "invalid_due_time"
	}
	if b.RepeatIntervalMinutes < 0 || b.MaxRepeats < 0 {
		return core.ReminderParams{}, "invalid_repeat"
	}
	return core.ReminderParams{
		Text:                  text,
		DueTime:               due,
		GroupIDs:              b.GroupIDs,
		RepeatIntervalMinutes: b.RepeatIntervalMinutes,
		MaxRepeats:            b.MaxRepeats,
	}, ""
}

func (s *Server) createReminder(w http.ResponseWriter, r *http.Request) {
	var in reminderBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	p, msg := in.params()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	rem, err := s.Store.CreateReminder(r.Context(), p)
	if err != nil {
		if errors.Is(err, core.ErrUnknownGroup) {
			writeError(w, http.StatusBadRequest, "unknown_group")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (s *Server) listReminders(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		} else {
			writeError(w, http.StatusBadRequest, "invalid_page")
			return
		}
	}
	pageSize := 20
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		} else {
			writeError(w, http.StatusBadRequest, "invalid_page_size")
			return
		}
	}
	if pageSize > 100 {
		pageSize = 100
	}

	items, total, err := s.Store.ListReminders(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reminders": items,
		"pagination": map[string]any{
			"current_page": page,
			"total_pages":  totalPages,
			"total_count":  total,
			"has_next":     page < totalPages,
			"has_previous": page > 1,
			"page_size":    pageSize,
		},
	})
}

func (s *Server) getReminder(w http.ResponseWriter, r *http.Request) {
	rem, err := s.Store.GetReminder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.reminderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) updateReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in reminderBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	p, msg := in.params()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	rem, err := s.Store.UpdateReminder(r.Context(), id, p)
	if err != nil {
		if errors.Is(err, core.ErrUnknownGroup) {
			writeError(w, http.StatusBadRequest, "unknown_group")
			return
		}
		s.reminderError(w, err)
		return
	}
	s.Cache.Invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) patchReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in struct {
		IsCompleted *bool `json:"is_completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.IsCompleted == nil {
		writeError(w, http.StatusBadRequest, "no_valid_field")
		return
	}
	rem, err := s.Store.SetCompleted(r.Context(), id, *in.IsCompleted)
	if err != nil {
		s.reminderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reminder": rem})
}

func (s *Server) deleteReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Store.DeleteReminder(r.Context(), id); err != nil {
		s.reminderError(w, err)
		return
	}
	s.Cache.Invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// sendNow is the on-demand trigger for one reminder.
func (s *Server) sendNow(w http.ResponseWriter, r *http.Request) {
	status, err := s.Engine.SendNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "reminder_not_found")
			return
		}
		if errors.Is(err, dispatch.ErrDeliveryFailed) {
			writeError(w, http.StatusBadGateway, "delivery_failed")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// sendDue runs one full dispatch cycle, the same path the periodic trigger
// takes, and reports its counts.
func (s *Server) sendDue(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Engine.RunCycle(r.Context())
	if err != nil {
		s.Logger.WithError(err).Error("on-demand dispatch cycle failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) reminderError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, "reminder_not_found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
