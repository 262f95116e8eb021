package scheduler

import (
	"context"

	logx "postpilot/pkg/logx"
)

// Recover reconciles persisted state after a restart: failed records go
// back to the ledger, future items are re-armed, and anything whose
// time passed while the process was down is left pending for an overdue
// sweep. It returns how many items were re-armed and how many are
// overdue.
//
// The caller is expected to wait a short settle period after boot and
// then run TriggerOverdueSweep; firing straight into the posting API
// during startup is how rate limits get tripped.
func (r *Registry) Recover(ctx context.Context) (rearmed, overdue int, err error) {
	recs, err := r.store.LoadSchedule(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := r.now()

	r.mu.Lock()
	for _, rec := range recs {
		it := recordToItem(rec)
		switch it.Status {
		case StatusFailed:
			r.failed = append(r.failed, it)
		case StatusPosted:
			// Shouldn't be in the snapshot; drop it.
		default:
			cp := cloneItem(it)
			cp.Status = StatusScheduled
			r.items[cp.ID] = &cp
			if cp.ScheduleTime.After(now) {
				rearmed++
			} else {
				overdue++
			}
		}
	}
	var toArm []string
	for id, it := range r.items {
		if it.ScheduleTime.After(now) {
			toArm = append(toArm, id)
		}
	}
	failedCount := len(r.failed)
	r.mu.Unlock()

	for _, id := range toArm {
		r.arm(id)
	}

	r.log.Info("schedule recovered",
		logx.Int("rearmed", rearmed),
		logx.Int("overdue", overdue),
		logx.Int("failed", failedCount),
	)
	return rearmed, overdue, nil
}
