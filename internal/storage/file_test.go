package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "postpilot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenFileRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Fresh store: empty, not an error.
	items, err := st.LoadSchedule(ctx)
	if err != nil {
		t.Fatalf("LoadSchedule (empty): %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty schedule, got %d items", len(items))
	}

	when := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	in := []ItemRecord{
		{ID: "a", Text: "hello", ScheduleTime: when, Status: "scheduled"},
		{
			ID:           "b",
			Text:         "with media",
			Media:        []MediaRecord{{URL: "https://example.test/pic.png", Kind: "image"}},
			ScheduleTime: when.Add(time.Hour),
			Status:       "failed",
			Error:        "publish: boom",
		},
	}
	if err := st.SaveSchedule(ctx, in); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	out, err := st.LoadSchedule(ctx)
	if err != nil {
		t.Fatalf("LoadSchedule: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d items, want 2", len(out))
	}
	if out[0].ID != "a" || !out[0].ScheduleTime.Equal(when) {
		t.Errorf("item a mismatch: %+v", out[0])
	}
	if out[1].Status != "failed" || out[1].Error != "publish: boom" {
		t.Errorf("failed item not preserved: %+v", out[1])
	}
	if len(out[1].Media) != 1 || out[1].Media[0].Kind != "image" {
		t.Errorf("media not preserved: %+v", out[1].Media)
	}

	// Wholesale rewrite: saving a smaller set drops the rest.
	if err := st.SaveSchedule(ctx, in[:1]); err != nil {
		t.Fatalf("SaveSchedule (rewrite): %v", err)
	}
	out, err = st.LoadSchedule(ctx)
	if err != nil {
		t.Fatalf("LoadSchedule (rewrite): %v", err)
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("rewrite not wholesale: %+v", out)
	}
}

func TestAnalyticsRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec, err := st.LoadAnalytics(ctx)
	if err != nil {
		t.Fatalf("LoadAnalytics (empty): %v", err)
	}
	if rec.Impressions == nil || rec.Engagement == nil {
		t.Fatal("empty analytics should have initialized maps")
	}

	rec.Posted = append(rec.Posted, PostRecord{
		PostID:   "p1",
		ItemID:   "a",
		Text:     "hello",
		PostedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		HasMedia: true,
	})
	rec.Impressions["p1"] = 120
	rec.Engagement["p1"] = Engagement{Likes: 3, Retweets: 1}

	if err := st.SaveAnalytics(ctx, rec); err != nil {
		t.Fatalf("SaveAnalytics: %v", err)
	}
	got, err := st.LoadAnalytics(ctx)
	if err != nil {
		t.Fatalf("LoadAnalytics: %v", err)
	}
	if len(got.Posted) != 1 || got.Posted[0].PostID != "p1" {
		t.Fatalf("posted not preserved: %+v", got.Posted)
	}
	if got.Impressions["p1"] != 120 {
		t.Errorf("impressions = %d, want 120", got.Impressions["p1"])
	}
	if got.Engagement["p1"].Likes != 3 {
		t.Errorf("engagement = %+v", got.Engagement["p1"])
	}
}

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("disk full")
	err := wrapErr("save schedule", inner)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatal("wrapErr should produce *Error")
	}
	if !errors.Is(err, inner) {
		t.Error("wrapped error should unwrap to the driver error")
	}
	if wrapErr("op", nil) != nil {
		t.Error("wrapErr(nil) should be nil")
	}
}
