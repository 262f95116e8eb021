package scheduler

import (
	"context"
	"testing"
	"time"

	"postpilot/internal/eventbus"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

func TestRecoverPartitionsSnapshot(t *testing.T) {
	st := newMemStore()
	now := time.Now()
	st.schedule = []storage.ItemRecord{
		{ID: "future", Text: "later", ScheduleTime: now.Add(2 * time.Hour), Status: "scheduled"},
		{ID: "overdue", Text: "missed", ScheduleTime: now.Add(-time.Hour), Status: "scheduled"},
		{ID: "broken", Text: "old failure", ScheduleTime: now.Add(-2 * time.Hour), Status: "failed", Error: "publish: boom"},
	}

	exec := &fakeExec{}
	r := NewRegistry(st, exec, eventbus.New(), Policy{}, logx.Nop())
	defer r.StopTimers()

	rearmed, overdue, err := r.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if rearmed != 1 || overdue != 1 {
		t.Fatalf("rearmed=%d overdue=%d, want 1/1", rearmed, overdue)
	}
	if r.Count() != 2 {
		t.Fatalf("pending = %d, want 2", r.Count())
	}
	failed := r.ListFailed()
	if len(failed) != 1 || failed[0].ID != "broken" || failed[0].Error != "publish: boom" {
		t.Fatalf("failed ledger = %+v", failed)
	}
}

func TestRecoverFlushesOverdueExactlyOnce(t *testing.T) {
	st := newMemStore()
	now := time.Now()
	st.schedule = []storage.ItemRecord{
		{ID: "a", Text: "first", ScheduleTime: now.Add(-2 * time.Hour), Status: "scheduled"},
		{ID: "b", Text: "second", ScheduleTime: now.Add(-time.Hour), Status: "scheduled"},
		{ID: "future", Text: "later", ScheduleTime: now.Add(3 * time.Hour), Status: "scheduled"},
	}

	exec := &fakeExec{}
	r := NewRegistry(st, exec, eventbus.New(), Policy{}, logx.Nop())
	defer r.StopTimers()

	if _, _, err := r.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	n, err := r.TriggerOverdueSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d, want 2", n)
	}

	runs := exec.executed()
	if len(runs) != 2 {
		t.Fatalf("executed %d, want 2", len(runs))
	}
	// Oldest first.
	if runs[0].ID != "a" || runs[1].ID != "b" {
		t.Fatalf("flush order = %s, %s", runs[0].ID, runs[1].ID)
	}

	// The future item survives, the flushed ones are gone.
	if r.Count() != 1 {
		t.Fatalf("pending = %d, want 1", r.Count())
	}
	if n, _ := r.TriggerOverdueSweep(context.Background()); n != 0 {
		t.Fatalf("second sweep fired %d, want 0", n)
	}
}

func TestRecoverRearmedItemFires(t *testing.T) {
	st := newMemStore()
	st.schedule = []storage.ItemRecord{
		{ID: "soon", Text: "x", ScheduleTime: time.Now().Add(20 * time.Millisecond), Status: "scheduled"},
	}

	exec := &fakeExec{}
	r := NewRegistry(st, exec, eventbus.New(), Policy{}, logx.Nop())
	defer r.StopTimers()

	if _, _, err := r.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	waitFor(t, func() bool { return len(exec.executed()) == 1 })
}
