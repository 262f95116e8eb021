package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"postpilot/internal/analytics"
	"postpilot/internal/eventbus"
	"postpilot/internal/paraphrase"
	"postpilot/internal/pipeline"
	"postpilot/internal/publisher"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

type memStore struct {
	mu       sync.Mutex
	schedule []storage.ItemRecord
	rec      storage.AnalyticsRecord
}

func newMemStore() *memStore {
	return &memStore{rec: storage.AnalyticsRecord{
		Posted:      []storage.PostRecord{},
		Impressions: map[string]int64{},
		Engagement:  map[string]storage.Engagement{},
	}}
}

func (m *memStore) LoadSchedule(ctx context.Context) ([]storage.ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.ItemRecord(nil), m.schedule...), nil
}

func (m *memStore) SaveSchedule(ctx context.Context, items []storage.ItemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = append([]storage.ItemRecord(nil), items...)
	return nil
}

func (m *memStore) LoadAnalytics(ctx context.Context) (storage.AnalyticsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, nil
}

func (m *memStore) SaveAnalytics(ctx context.Context, rec storage.AnalyticsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = rec
	return nil
}
func (m *memStore) Close() error { return nil }

type okPub struct{}

func (okPub) UploadMedia(ctx context.Context, m publisher.Media) (publisher.MediaHandle, error) {
	return publisher.MediaHandle{ID: "h"}, nil
}

func (okPub) Publish(ctx context.Context, text string, media []publisher.MediaHandle) (publisher.PostResult, error) {
	return publisher.PostResult{ID: "post-1", Text: text, CreatedAt: time.Now()}, nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *scheduler.Registry) {
	t.Helper()
	st := newMemStore()
	an, err := analytics.Open(context.Background(), st, logx.Nop())
	if err != nil {
		t.Fatalf("analytics.Open: %v", err)
	}
	para := paraphrase.New(paraphrase.Config{Enabled: false}, logx.Nop())
	pipe := pipeline.New(pipeline.Config{}, para, okPub{}, nil, an, nil, logx.Nop())
	reg := scheduler.NewRegistry(st, pipe, eventbus.New(), scheduler.Policy{}, logx.Nop())
	t.Cleanup(reg.StopTimers)
	return NewServer(cfg, reg, pipe, para, an, logx.Nop()), reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return m
}

func TestScheduleEndpoint(t *testing.T) {
	s, reg := newTestServer(t, Config{})
	h := s.Router()

	rr := doJSON(t, h, http.MethodPost, "/api/schedule", map[string]any{
		"text":         "hello",
		"scheduleTime": time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["id"] == "" {
		t.Fatalf("body = %v", body)
	}
	if reg.Count() != 1 {
		t.Errorf("registry count = %d", reg.Count())
	}
}

func TestScheduleValidation(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Router()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing text", map[string]any{"scheduleTime": time.Now().Add(time.Hour).Format(time.RFC3339)}},
		{"missing time", map[string]any{"text": "hi"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, h, http.MethodPost, "/api/schedule", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["success"] != false || body["code"] != codeValidation {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestAutoScheduleEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Router()

	rr := doJSON(t, h, http.MethodPost, "/api/auto-schedule", map[string]any{"text": "hi"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	ts, _ := body["scheduleTime"].(string)
	when, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("scheduleTime %q: %v", ts, err)
	}
	if !when.After(time.Now()) {
		t.Errorf("allocated slot %v not in the future", when)
	}
}

func TestPostNowEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Router()

	rr := doJSON(t, h, http.MethodPost, "/api/post-now", map[string]any{"text": "now please"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	res, _ := body["result"].(map[string]any)
	if res["id"] != "post-1" {
		t.Fatalf("body = %v", body)
	}
}

func TestCancelEndpoint(t *testing.T) {
	s, reg := newTestServer(t, Config{})
	h := s.Router()

	it, err := reg.Add(context.Background(), scheduler.Item{Text: "x", ScheduleTime: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	rr := doJSON(t, h, http.MethodDelete, "/api/scheduled/"+it.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodDelete, "/api/scheduled/"+it.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["code"] != codeNotFound {
		t.Fatalf("body = %v", body)
	}
}

func TestListScheduledEndpoint(t *testing.T) {
	s, reg := newTestServer(t, Config{})
	h := s.Router()

	if _, err := reg.Add(context.Background(), scheduler.Item{Text: "x", ScheduleTime: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rr := doJSON(t, h, http.MethodGet, "/api/scheduled", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", body["items"])
	}
	stats, _ := body["stats"].(map[string]any)
	if stats["totalScheduled"] != float64(1) {
		t.Fatalf("stats = %v", stats)
	}
}

func TestStatsEndpointShape(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Router()

	rr := doJSON(t, h, http.MethodGet, "/api/scheduling-stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	stats, _ := body["stats"].(map[string]any)
	for _, key := range []string{"totalScheduled", "dailyDistribution", "hourlyDistribution", "nextAvailableSlots", "optimalHours"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %q: %v", key, stats)
		}
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Router()

	rr := doJSON(t, h, http.MethodGet, "/api/analytics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	an, _ := body["analytics"].(map[string]any)
	if _, ok := an["totalPosts"]; !ok {
		t.Fatalf("analytics = %v", an)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Router()

	rr := doJSON(t, h, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestPreviewParaphraseDisabled(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Router()

	rr := doJSON(t, h, http.MethodPost, "/api/preview-paraphrase", map[string]any{"text": "hello"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["aiSuccess"] != false || body["paraphrased"] != "hello" {
		t.Fatalf("body = %v", body)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _ := newTestServer(t, Config{RatePerSec: 1, Burst: 1})
	h := s.Router()

	first := doJSON(t, h, http.MethodGet, "/api/health", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := doJSON(t, h, http.MethodGet, "/api/health", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	body := decodeBody(t, second)
	if body["code"] != codeRateLimited {
		t.Fatalf("body = %v", body)
	}
}

func TestSchedulerErrorMapping(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{scheduler.ErrNotFound, http.StatusNotFound, codeNotFound},
		{scheduler.ErrNoFreeSlot, http.StatusConflict, codeNoFreeSlot},
		{&storage.Error{Op: "save schedule", Err: context.DeadlineExceeded}, http.StatusInternalServerError, codeStorage},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		s.writeSchedulerError(rr, tc.err)
		if rr.Code != tc.status {
			t.Errorf("%v: status = %d, want %d", tc.err, rr.Code, tc.status)
		}
		body := decodeBody(t, rr)
		if body["code"] != tc.code {
			t.Errorf("%v: code = %v, want %v", tc.err, body["code"], tc.code)
		}
	}
}
