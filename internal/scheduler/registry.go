package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"postpilot/internal/eventbus"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

// Executor runs the posting pipeline for one due item and returns the
// published post ID. The registry calls it exactly once per item.
type Executor interface {
	Execute(ctx context.Context, it Item) (postID string, err error)
}

// Registry is the authoritative owner of scheduled items and their
// armed triggers. Trigger handles never leave this struct.
type Registry struct {
	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus
	exec  Executor
	pol   Policy

	mu     sync.Mutex
	items  map[string]*Item
	failed []Item
	timers map[string]*time.Timer
	vers   map[string]uint64

	now func() time.Time
}

func NewRegistry(store storage.Store, exec Executor, bus eventbus.Bus, pol Policy, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:    log.With(logx.String("comp", "scheduler")),
		store:  store,
		bus:    bus,
		exec:   exec,
		pol:    pol.withDefaults(),
		items:  map[string]*Item{},
		timers: map[string]*time.Timer{},
		vers:   map[string]uint64{},
		now:    time.Now,
	}
}

// Policy returns the effective allocation policy.
func (r *Registry) Policy() Policy { return r.pol }

// Add registers an item at its explicit ScheduleTime.
// An empty ID gets a fresh uuid. Persistence failure rolls the item
// back out of the registry.
func (r *Registry) Add(ctx context.Context, it Item) (Item, error) {
	if strings.TrimSpace(it.ID) == "" {
		it.ID = uuid.NewString()
	}
	it.Status = StatusScheduled
	it.Error = ""

	r.mu.Lock()
	cp := cloneItem(it)
	r.items[it.ID] = &cp
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.store.SaveSchedule(ctx, snap); err != nil {
		r.mu.Lock()
		delete(r.items, it.ID)
		r.mu.Unlock()
		return Item{}, err
	}

	r.arm(it.ID)
	r.log.Info("post scheduled",
		logx.String("id", it.ID),
		logx.Time("at", it.ScheduleTime),
		logx.Int("media", len(it.Media)),
	)
	r.publish(eventbus.EventPostScheduled, eventbus.PostEvent{
		ItemID:       it.ID,
		Text:         it.Text,
		ScheduleTime: it.ScheduleTime,
	})
	return cloneItem(it), nil
}

// AutoSchedule allocates the earliest free slot and registers the item
// there.
func (r *Registry) AutoSchedule(ctx context.Context, it Item) (Item, error) {
	r.mu.Lock()
	existing := r.scheduleTimesLocked()
	r.mu.Unlock()

	slot, err := FindSlot(r.localNow(), existing, r.pol)
	if err != nil {
		return Item{}, err
	}
	it.ScheduleTime = slot
	return r.Add(ctx, it)
}

// Cancel disarms and removes a pending item. A second Cancel of the
// same id returns ErrNotFound and leaves the registry unchanged.
// An item whose pipeline is already running cannot be cancelled.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	it, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	removed := cloneItem(*it)
	delete(r.items, id)
	r.vers[id]++ // void any armed callback
	if t, ok := r.timers[id]; ok {
		_ = t.Stop()
		delete(r.timers, id)
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.store.SaveSchedule(ctx, snap); err != nil {
		r.log.Error("persist after cancel failed", logx.String("id", id), logx.Err(err))
		return err
	}

	r.log.Info("post cancelled", logx.String("id", id))
	r.publish(eventbus.EventPostCancelled, eventbus.PostEvent{
		ItemID:       removed.ID,
		Text:         removed.Text,
		ScheduleTime: removed.ScheduleTime,
	})
	return nil
}

// List returns pending items ordered by ScheduleTime ascending.
func (r *Registry) List() []Item {
	r.mu.Lock()
	out := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, cloneItem(*it))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleTime.Before(out[j].ScheduleTime) })
	return out
}

// ListFailed returns the failed ledger, oldest first.
func (r *Registry) ListFailed() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, len(r.failed))
	for i, it := range r.failed {
		out[i] = cloneItem(it)
	}
	return out
}

// Count returns the number of pending items.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Stats summarizes the pending schedule.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	existing := r.scheduleTimesLocked()
	r.mu.Unlock()

	st := Stats{
		TotalScheduled:    len(existing),
		DailyDistribution: map[string]int{},
		OptimalHours:      append([]int(nil), r.pol.OptimalHours...),
	}
	for _, t := range existing {
		lt := t
		if r.pol.Location != nil {
			lt = lt.In(r.pol.Location)
		}
		st.DailyDistribution[lt.Format("2006-01-02")]++
		st.HourlyDistribution[lt.Hour()]++
	}

	// Probe the next few free slots by allocating against a growing copy.
	probe := append([]time.Time(nil), existing...)
	now := r.localNow()
	for len(st.NextAvailableSlots) < 5 {
		slot, err := FindSlot(now, probe, r.pol)
		if err != nil {
			break
		}
		st.NextAvailableSlots = append(st.NextAvailableSlots, slot)
		probe = append(probe, slot)
	}
	return st
}

// localNow returns the current time in the policy's timezone, so
// optimal-hour candidates land on the configured local clock.
func (r *Registry) localNow() time.Time {
	now := r.now()
	if r.pol.Location != nil {
		now = now.In(r.pol.Location)
	}
	return now
}

// TriggerOverdueSweep fires every item whose time has passed, one at a
// time in schedule order. It returns the number of items executed.
func (r *Registry) TriggerOverdueSweep(ctx context.Context) (int, error) {
	now := r.now()

	r.mu.Lock()
	var due []Item
	for _, it := range r.items {
		if !it.ScheduleTime.After(now) {
			due = append(due, cloneItem(*it))
		}
	}
	r.mu.Unlock()
	if len(due) == 0 {
		return 0, nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduleTime.Before(due[j].ScheduleTime) })

	fired := 0
	for _, it := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		if !r.take(it.ID) {
			continue // cancelled or already fired concurrently
		}
		r.log.Info("flushing overdue post", logx.String("id", it.ID), logx.Time("was_due", it.ScheduleTime))
		r.execute(ctx, it)
		fired++
	}
	return fired, nil
}

// StopTimers disarms everything without touching persisted state.
// Used during shutdown.
func (r *Registry) StopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		_ = t.Stop()
		delete(r.timers, id)
		r.vers[id]++
	}
}

// ---- internals ----

// arm schedules the one-shot trigger for id. The version guard makes
// stale callbacks (from a timer replaced or cancelled after arming)
// no-ops.
func (r *Registry) arm(id string) {
	r.mu.Lock()
	it, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if t, ok := r.timers[id]; ok {
		_ = t.Stop()
	}
	ver := r.vers[id] + 1
	r.vers[id] = ver

	delay := it.ScheduleTime.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	localID, localVer := id, ver
	r.timers[id] = time.AfterFunc(delay, func() { r.fire(localID, localVer) })
	r.mu.Unlock()
}

func (r *Registry) fire(id string, ver uint64) {
	r.mu.Lock()
	if r.vers[id] != ver {
		r.mu.Unlock()
		return
	}
	it, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	cp := cloneItem(*it)
	delete(r.items, id)
	delete(r.timers, id)
	delete(r.vers, id)
	r.mu.Unlock()

	r.execute(context.Background(), cp)
}

// take removes id from the pending set for immediate execution.
func (r *Registry) take(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	r.vers[id]++
	if t, ok := r.timers[id]; ok {
		_ = t.Stop()
		delete(r.timers, id)
	}
	return true
}

// execute runs the pipeline for an item that has already been removed
// from the pending set. The item is gone from the registry whatever the
// outcome; failures are appended to the persisted failed ledger.
func (r *Registry) execute(ctx context.Context, it Item) {
	postID, err := r.exec.Execute(ctx, it)
	if err != nil {
		it.Status = StatusFailed
		it.Error = err.Error()

		r.mu.Lock()
		r.failed = append(r.failed, cloneItem(it))
		snap := r.snapshotLocked()
		r.mu.Unlock()

		if perr := r.store.SaveSchedule(ctx, snap); perr != nil {
			r.log.Error("persist after failure failed", logx.String("id", it.ID), logx.Err(perr))
		}
		r.log.Error("post failed", logx.String("id", it.ID), logx.Err(err))
		r.publish(eventbus.EventPostFailed, eventbus.PostEvent{
			ItemID:       it.ID,
			Text:         it.Text,
			ScheduleTime: it.ScheduleTime,
			Error:        err.Error(),
		})
		return
	}

	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	if perr := r.store.SaveSchedule(ctx, snap); perr != nil {
		r.log.Error("persist after post failed", logx.String("id", it.ID), logx.Err(perr))
	}

	r.log.Info("post published", logx.String("id", it.ID), logx.String("post_id", postID))
	r.publish(eventbus.EventPostPosted, eventbus.PostEvent{
		ItemID:       it.ID,
		Text:         it.Text,
		ScheduleTime: it.ScheduleTime,
		PostID:       postID,
	})
}

func (r *Registry) snapshotLocked() []storage.ItemRecord {
	recs := make([]storage.ItemRecord, 0, len(r.items)+len(r.failed))
	for _, it := range r.items {
		recs = append(recs, itemToRecord(*it))
	}
	for _, it := range r.failed {
		recs = append(recs, itemToRecord(it))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ScheduleTime.Before(recs[j].ScheduleTime) })
	return recs
}

func (r *Registry) scheduleTimesLocked() []time.Time {
	out := make([]time.Time, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it.ScheduleTime)
	}
	return out
}

func (r *Registry) publish(typ string, ev eventbus.PostEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
