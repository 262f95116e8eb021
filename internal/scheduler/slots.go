package scheduler

import "time"

// HasConflict reports whether a post at t would violate spacing rules
// against the existing schedule: either its hour bucket is already at
// MaxPerHour, or it falls within MinGap of another post.
func HasConflict(t time.Time, existing []time.Time, pol Policy) bool {
	pol = pol.withDefaults()
	inBucket := 0
	for _, e := range existing {
		if sameHourBucket(t, e) {
			inBucket++
			if inBucket >= pol.MaxPerHour {
				return true
			}
		}
		d := t.Sub(e)
		if d < 0 {
			d = -d
		}
		if d < pol.MinGap {
			return true
		}
	}
	return false
}

// FindSlot returns the earliest free slot strictly after now.
//
// Scan order: remaining optimal hours today, then day by day up to the
// horizon, where each day's optimal hours are tried before any other
// hour of that same day. Today never gets the off-hours fallback.
// Candidates are always at the top of the hour.
func FindSlot(now time.Time, existing []time.Time, pol Policy) (time.Time, error) {
	pol = pol.withDefaults()

	for _, h := range pol.OptimalHours {
		if cand, ok := freeAt(now, h, now, existing, pol); ok {
			return cand, nil
		}
	}

	for day := 1; day < pol.HorizonDays; day++ {
		base := now.AddDate(0, 0, day)
		for _, h := range pol.OptimalHours {
			if cand, ok := freeAt(base, h, now, existing, pol); ok {
				return cand, nil
			}
		}
		for h := 0; h < 24; h++ {
			if cand, ok := freeAt(base, h, now, existing, pol); ok {
				return cand, nil
			}
		}
	}

	return time.Time{}, ErrNoFreeSlot
}

func freeAt(day time.Time, hour int, now time.Time, existing []time.Time, pol Policy) (time.Time, bool) {
	cand := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, now.Location())
	if !cand.After(now) {
		return time.Time{}, false
	}
	if HasConflict(cand, existing, pol) {
		return time.Time{}, false
	}
	return cand, true
}

// sameHourBucket compares calendar hours in the candidate's location;
// stored timestamps may carry a different zone.
func sameHourBucket(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour()
}
