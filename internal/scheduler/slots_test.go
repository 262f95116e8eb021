package scheduler

import (
	"testing"
	"time"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

func TestFindSlotPicksEarliestOptimalHour(t *testing.T) {
	now := at(t, "2026-03-14 06:30")
	slot, err := FindSlot(now, nil, Policy{})
	if err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	if want := at(t, "2026-03-14 07:00"); !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}
}

func TestFindSlotSkipsPastHoursToday(t *testing.T) {
	now := at(t, "2026-03-14 09:00")
	slot, err := FindSlot(now, nil, Policy{})
	if err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	// 07, 08 are in the past and 09:00 is not strictly after now.
	if want := at(t, "2026-03-14 12:00"); !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}
}

func TestFindSlotRollsToNextDay(t *testing.T) {
	now := at(t, "2026-03-14 22:15")
	slot, err := FindSlot(now, nil, Policy{})
	if err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	if want := at(t, "2026-03-15 07:00"); !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}
}

func TestFindSlotSkipsOccupiedBuckets(t *testing.T) {
	now := at(t, "2026-03-14 06:30")
	existing := []time.Time{
		at(t, "2026-03-14 07:15"),
		at(t, "2026-03-14 08:45"),
	}
	slot, err := FindSlot(now, existing, Policy{})
	if err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	// 07 bucket taken; 08:00 is within 30m of nothing but its bucket is
	// taken too; 09:00 is 15m past 08:45 so MinGap rejects it as well.
	if want := at(t, "2026-03-14 12:00"); !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}
}

func TestFindSlotFallsBackToAnyHour(t *testing.T) {
	now := at(t, "2026-03-14 00:30")
	pol := Policy{OptimalHours: []int{9}, HorizonDays: 2}
	existing := []time.Time{
		at(t, "2026-03-14 09:00"),
		at(t, "2026-03-15 09:00"),
	}
	slot, err := FindSlot(now, existing, pol)
	if err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	// Both optimal buckets taken; the off-hours fallback starts on the
	// next day, not today, so the first free hour of day 1 wins.
	if want := at(t, "2026-03-15 00:00"); !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}
}

func TestFindSlotSkipsTodayOffHours(t *testing.T) {
	now := at(t, "2026-03-14 00:30")
	pol := Policy{OptimalHours: []int{9}, HorizonDays: 2}
	existing := []time.Time{at(t, "2026-03-14 09:00")}

	slot, err := FindSlot(now, existing, pol)
	if err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	// Today's only optimal bucket is taken; tomorrow's optimal hour
	// beats any remaining hour of today.
	if want := at(t, "2026-03-15 09:00"); !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}
}

func TestFindSlotHorizonExhausted(t *testing.T) {
	now := at(t, "2026-03-14 00:30")
	pol := Policy{OptimalHours: []int{9}, HorizonDays: 1, MaxPerHour: 1}

	// Fill every hour of the single horizon day.
	var existing []time.Time
	day := at(t, "2026-03-14 00:00")
	for h := 0; h < 24; h++ {
		existing = append(existing, day.Add(time.Duration(h)*time.Hour))
	}

	if _, err := FindSlot(now, existing, pol); err != ErrNoFreeSlot {
		t.Fatalf("err = %v, want ErrNoFreeSlot", err)
	}
}

func TestHasConflictSpacing(t *testing.T) {
	pol := Policy{}

	tests := []struct {
		name     string
		existing string
		cand     string
		want     bool
	}{
		{"10 minutes apart", "2026-03-14 10:00", "2026-03-14 10:10", true},
		{"exactly 30 minutes, same bucket", "2026-03-14 10:00", "2026-03-14 10:30", true},
		{"31 minutes apart across buckets", "2026-03-14 10:45", "2026-03-14 11:16", false},
		{"same hour bucket", "2026-03-14 10:05", "2026-03-14 10:50", true},
		{"adjacent hour, wide gap", "2026-03-14 10:00", "2026-03-14 11:00", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := HasConflict(at(t, tc.cand), []time.Time{at(t, tc.existing)}, pol)
			if got != tc.want {
				t.Errorf("HasConflict = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasConflictNormalizesZones(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*60*60)
	// 12:00 local is 17:00 UTC; the existing post at 17:35 UTC sits in
	// the same local hour bucket even though the gap exceeds MinGap.
	cand := time.Date(2026, 3, 14, 12, 0, 0, 0, zone)
	existing := []time.Time{time.Date(2026, 3, 14, 17, 35, 0, 0, time.UTC)}

	if !HasConflict(cand, existing, Policy{}) {
		t.Error("same hour bucket across zones should conflict")
	}
	if HasConflict(cand, []time.Time{time.Date(2026, 3, 14, 18, 35, 0, 0, time.UTC)}, Policy{}) {
		t.Error("adjacent local bucket with a wide gap should not conflict")
	}
}

func TestHasConflictMaxPerHour(t *testing.T) {
	pol := Policy{MaxPerHour: 2, MinGap: time.Minute}
	existing := []time.Time{at(t, "2026-03-14 10:00"), at(t, "2026-03-14 10:20")}

	if !HasConflict(at(t, "2026-03-14 10:40"), existing, pol) {
		t.Error("third post in a 2-per-hour bucket should conflict")
	}
	if HasConflict(at(t, "2026-03-14 10:40"), existing[:1], pol) {
		t.Error("second post in a 2-per-hour bucket should be fine")
	}
}
