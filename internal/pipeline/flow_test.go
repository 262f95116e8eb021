package pipeline

import (
	"context"
	"testing"
	"time"

	"postpilot/internal/scheduler"
	logx "postpilot/pkg/logx"
)

// Exercises the whole posting chain: a registered item's trigger fires,
// the pipeline paraphrases and publishes, and the post lands in the
// analytics log while the pending set empties.
func TestScheduledPostFlowsToAnalytics(t *testing.T) {
	pub := &fakePub{}
	p, _, an := newTestPipeline(t, pub, &fakeFallback{}, &fakePara{out: "rewritten", ok: true})

	reg := scheduler.NewRegistry(newMemStore(), p, nil, scheduler.Policy{}, logx.Nop())
	defer reg.StopTimers()

	it, err := reg.Add(context.Background(), scheduler.Item{
		Text:         "original",
		ScheduleTime: time.Now().Add(20 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := reg.Stats().TotalScheduled; got != 1 {
		t.Fatalf("totalScheduled = %d, want 1", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(an.Snapshot().Posted) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("trigger never published the post")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if reg.Count() != 0 {
		t.Errorf("pending count = %d, want 0 after fire", reg.Count())
	}
	if len(reg.ListFailed()) != 0 {
		t.Errorf("failed ledger = %+v, want empty", reg.ListFailed())
	}
	if pub.attempts() != 1 || pub.publishes[0] != "rewritten" {
		t.Errorf("published %v, want one attempt with the paraphrased text", pub.publishes)
	}

	snap := an.Snapshot()
	if len(snap.Posted) != 1 {
		t.Fatalf("posted = %+v, want 1 record", snap.Posted)
	}
	rec := snap.Posted[0]
	if rec.ItemID != it.ID || rec.PostID != "post-1" || rec.Text != "original" {
		t.Errorf("record = %+v, want item %s posted as post-1 with the original text", rec, it.ID)
	}
}
