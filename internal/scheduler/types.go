package scheduler

import (
	"errors"
	"sort"
	"time"

	"postpilot/internal/storage"
)

var (
	ErrNotFound   = errors.New("scheduled item not found")
	ErrNoFreeSlot = errors.New("no free slot within scheduling horizon")
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
)

// MediaRef points at one attachment. Exactly one of URL or Data is set;
// Data is base64-encoded content.
type MediaRef struct {
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
	Kind string `json:"kind,omitempty"` // image | gif | video
}

// Item is one scheduled post. Status moves scheduled -> posted|failed
// and never backwards.
type Item struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Media        []MediaRef `json:"media,omitempty"`
	ScheduleTime time.Time `json:"scheduleTime"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
}

func cloneItem(it Item) Item {
	cp := it
	if len(it.Media) > 0 {
		cp.Media = append([]MediaRef(nil), it.Media...)
	}
	return cp
}

// Policy controls slot allocation.
//
// Defaults (applied by withDefaults):
//   - OptimalHours: 7,8,9,12,13,17,18,19,20,21
//   - MinGap: 30m
//   - MaxPerHour: 1
//   - HorizonDays: 7
type Policy struct {
	OptimalHours []int
	MinGap       time.Duration
	MaxPerHour   int
	HorizonDays  int

	// Location is the timezone optimal hours are evaluated in.
	// Nil means the clock's own location.
	Location *time.Location
}

func defaultOptimalHours() []int { return []int{7, 8, 9, 12, 13, 17, 18, 19, 20, 21} }

func (p Policy) withDefaults() Policy {
	if len(p.OptimalHours) == 0 {
		p.OptimalHours = defaultOptimalHours()
	} else {
		p.OptimalHours = append([]int(nil), p.OptimalHours...)
	}
	sort.Ints(p.OptimalHours)
	if p.MinGap <= 0 {
		p.MinGap = 30 * time.Minute
	}
	if p.MaxPerHour <= 0 {
		p.MaxPerHour = 1
	}
	if p.HorizonDays <= 0 {
		p.HorizonDays = 7
	}
	return p
}

// Stats is the scheduling overview returned by the API.
type Stats struct {
	TotalScheduled     int            `json:"totalScheduled"`
	DailyDistribution  map[string]int `json:"dailyDistribution"`
	HourlyDistribution [24]int        `json:"hourlyDistribution"`
	NextAvailableSlots []time.Time    `json:"nextAvailableSlots"`
	OptimalHours       []int          `json:"optimalHours"`
}

func itemToRecord(it Item) storage.ItemRecord {
	rec := storage.ItemRecord{
		ID:           it.ID,
		Text:         it.Text,
		ScheduleTime: it.ScheduleTime.UTC(),
		Status:       string(it.Status),
		Error:        it.Error,
	}
	for _, m := range it.Media {
		rec.Media = append(rec.Media, storage.MediaRecord{URL: m.URL, Data: m.Data, Kind: m.Kind})
	}
	return rec
}

func recordToItem(rec storage.ItemRecord) Item {
	it := Item{
		ID:           rec.ID,
		Text:         rec.Text,
		ScheduleTime: rec.ScheduleTime,
		Status:       Status(rec.Status),
		Error:        rec.Error,
	}
	for _, m := range rec.Media {
		it.Media = append(it.Media, MediaRef{URL: m.URL, Data: m.Data, Kind: m.Kind})
	}
	if it.Status == "" {
		it.Status = StatusScheduled
	}
	return it
}
