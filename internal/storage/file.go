package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "postpilot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.scheduled.json (schedule snapshot)
//   - <prefix>.analytics.json (analytics log)
//
// Each Save* rewrites its document wholesale via tmp+rename so a crash
// mid-write never leaves a torn file behind.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	schedulePath  string
	analyticsPath string
}

// scheduleDoc is the on-disk schedule envelope. The version field exists
// so a future format change can be detected at load time.
type scheduleDoc struct {
	Version int          `json:"version"`
	Items   []ItemRecord `json:"items"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr("mkdir", err)
	}

	return &fileStore{
		log:           log,
		schedulePath:  prefix + ".scheduled.json",
		analyticsPath: prefix + ".analytics.json",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadSchedule(ctx context.Context) ([]ItemRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.schedulePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("load schedule", err)
	}

	var doc scheduleDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, wrapErr("decode schedule", err)
	}
	return doc.Items, nil
}

func (s *fileStore) SaveSchedule(ctx context.Context, items []ItemRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := scheduleDoc{Version: 1, Items: items}
	if doc.Items == nil {
		doc.Items = []ItemRecord{}
	}
	if err := writeAtomic(s.schedulePath, doc); err != nil {
		return wrapErr("save schedule", err)
	}
	return nil
}

func (s *fileStore) LoadAnalytics(ctx context.Context) (AnalyticsRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec AnalyticsRecord
	b, err := os.ReadFile(s.analyticsPath)
	if errors.Is(err, os.ErrNotExist) {
		return emptyAnalytics(), nil
	}
	if err != nil {
		return rec, wrapErr("load analytics", err)
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, wrapErr("decode analytics", err)
	}
	if rec.Impressions == nil {
		rec.Impressions = map[string]int64{}
	}
	if rec.Engagement == nil {
		rec.Engagement = map[string]Engagement{}
	}
	return rec, nil
}

func (s *fileStore) SaveAnalytics(ctx context.Context, rec AnalyticsRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Posted == nil {
		rec.Posted = []PostRecord{}
	}
	if rec.Impressions == nil {
		rec.Impressions = map[string]int64{}
	}
	if rec.Engagement == nil {
		rec.Engagement = map[string]Engagement{}
	}
	if err := writeAtomic(s.analyticsPath, rec); err != nil {
		return wrapErr("save analytics", err)
	}
	return nil
}

func emptyAnalytics() AnalyticsRecord {
	return AnalyticsRecord{
		Posted:      []PostRecord{},
		Impressions: map[string]int64{},
		Engagement:  map[string]Engagement{},
	}
}

func writeAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
