package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"warelay/internal/services/broadcast"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// scheduleRequest is the POST /api/broadcasts body.
//
// Activation is given either as activation_at (epoch ms) or delay (Go duration
// string). When both are present, activation_at wins.
type scheduleRequest struct {
	Destinations []string `json:"destinations"`
	Text         string   `json:"text,omitempty"`
	ImageRef     string   `json:"image_ref,omitempty"`
	Caption      string   `json:"caption,omitempty"`
	ActivationAt int64    `json:"activation_at,omitempty"`
	Delay        string   `json:"delay,omitempty"`
	Credential   string   `json:"credential"`
	Owner        string   `json:"owner,omitempty"`
}

type scheduleResponse struct {
	ID           string `json:"id"`
	ActivationAt int64  `json:"activation_at"` // epoch ms
	Status       string `json:"status"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	at := time.Time{}
	switch {
	case req.ActivationAt > 0:
		at = time.UnixMilli(req.ActivationAt)
	case strings.TrimSpace(req.Delay) != "":
		d, err := time.ParseDuration(strings.TrimSpace(req.Delay))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid delay: "+err.Error())
			return
		}
		at = time.Now().Add(d)
	default:
		at = time.Now()
	}

	rcpt, err := s.deps.Broadcasts.Schedule(broadcast.ScheduleRequest{
		Destinations: req.Destinations,
		Content: broadcast.Content{
			Text:     req.Text,
			ImageRef: req.ImageRef,
			Caption:  req.Caption,
		},
		ActivationAt: at,
		Credential:   req.Credential,
		Owner:        req.Owner,
	})
	if err != nil {
		writeError(w, scheduleStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, scheduleResponse{
		ID:           rcpt.ID,
		ActivationAt: rcpt.ActivationAt.UnixMilli(),
		Status:       "scheduled",
	})
}

func scheduleStatus(err error) int {
	switch {
	case errors.Is(err, broadcast.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, broadcast.ErrNoDestinations),
		errors.Is(err, broadcast.ErrEmptyContent),
		errors.Is(err, broadcast.ErrNoCredential):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Broadcasts.List()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, ok := s.deps.Broadcasts.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown broadcast id")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Broadcasts.Cancel(id) {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
		return
	}
	// Still visible means dispatch already started; gone means unknown id.
	if _, ok := s.deps.Broadcasts.Get(id); ok {
		writeError(w, http.StatusConflict, "broadcast already dispatching")
		return
	}
	writeError(w, http.StatusNotFound, "unknown broadcast id")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	recs := s.deps.Broadcasts.History()
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

// handleRecords serves the persisted outcome log when storage is enabled.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotFound, "storage disabled")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be in 1..1000")
			return
		}
		limit = n
	}
	recs, err := s.deps.Store.RecentRecords(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

func (s *Server) handleRecurring(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recurring == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}, "count": 0})
		return
	}
	entries := s.deps.Recurring.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"scheduler": s.deps.Broadcasts.Enabled(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
