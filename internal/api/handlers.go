package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

const (
	codeValidation  = "validation"
	codeNotFound    = "not_found"
	codeNoFreeSlot  = "no_free_slot"
	codeStorage     = "storage"
	codePublish     = "publish"
	codeInternal    = "internal"
	codeRateLimited = "rate_limited"
)

type mediaPayload struct {
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
	Kind string `json:"kind,omitempty"`
}

type schedulePayload struct {
	Text         string         `json:"text"`
	Images       []string       `json:"images,omitempty"`
	Media        []mediaPayload `json:"media,omitempty"`
	ScheduleTime time.Time      `json:"scheduleTime,omitempty"`
}

func (p schedulePayload) item() (scheduler.Item, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return scheduler.Item{}, errors.New("text is required")
	}
	it := scheduler.Item{Text: text}
	for _, img := range p.Images {
		img = strings.TrimSpace(img)
		if img == "" {
			continue
		}
		ref := scheduler.MediaRef{Kind: "image"}
		if strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
			ref.URL = img
		} else {
			// base64 payload, possibly a data: URL
			if i := strings.IndexByte(img, ','); i >= 0 && strings.HasPrefix(img, "data:") {
				img = img[i+1:]
			}
			ref.Data = img
		}
		it.Media = append(it.Media, ref)
	}
	for _, m := range p.Media {
		if m.URL == "" && m.Data == "" {
			continue
		}
		kind := m.Kind
		if kind == "" {
			kind = "image"
		}
		it.Media = append(it.Media, scheduler.MediaRef{URL: m.URL, Data: m.Data, Kind: kind})
	}
	return it, nil
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var p schedulePayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}
	it, err := p.item()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}
	if p.ScheduleTime.IsZero() {
		writeError(w, http.StatusBadRequest, "scheduleTime is required", codeValidation)
		return
	}
	it.ScheduleTime = p.ScheduleTime.UTC()

	added, err := s.reg.Add(r.Context(), it)
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      added.ID,
	})
}

func (s *Server) handleAutoSchedule(w http.ResponseWriter, r *http.Request) {
	var p schedulePayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}
	it, err := p.item()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}

	added, err := s.reg.AutoSchedule(r.Context(), it)
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"id":           added.ID,
		"scheduleTime": added.ScheduleTime,
	})
}

func (s *Server) handlePostNow(w http.ResponseWriter, r *http.Request) {
	var p schedulePayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}
	it, err := p.item()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}
	it.ID = uuid.NewString()
	it.ScheduleTime = time.Now().UTC()

	res, err := s.pipe.Run(r.Context(), it)
	if err != nil {
		s.log.Error("post-now failed", logx.String("id", it.ID), logx.Err(err))
		writeError(w, http.StatusBadGateway, err.Error(), codePublish)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  res,
	})
}

func (s *Server) handleTriggerOverdue(w http.ResponseWriter, r *http.Request) {
	n, err := s.reg.TriggerOverdueSweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"overdueCount": n,
	})
}

func (s *Server) handlePreviewParaphrase(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}
	if strings.TrimSpace(p.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", codeValidation)
		return
	}
	writeJSON(w, http.StatusOK, s.para.Preview(r.Context(), p.Text))
}

func (s *Server) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"items":   s.reg.List(),
		"failed":  s.reg.ListFailed(),
		"stats":   s.reg.Stats(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Cancel(r.Context(), id); err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   s.reg.Stats(),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"analytics": s.an.Summarize(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"scheduled": s.reg.Count(),
		"uptime":    int64(time.Since(s.start).Seconds()),
	})
}

func (s *Server) writeSchedulerError(w http.ResponseWriter, err error) {
	var se *storage.Error
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), codeNotFound)
	case errors.Is(err, scheduler.ErrNoFreeSlot):
		writeError(w, http.StatusConflict, err.Error(), codeNoFreeSlot)
	case errors.As(err, &se):
		writeError(w, http.StatusInternalServerError, err.Error(), codeStorage)
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), codeInternal)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 16<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}
