package storage

import (
	"errors"
	"fmt"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON file backend (default)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Error wraps a driver failure so callers can classify persistence
// problems without caring which driver produced them.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// MediaRecord is one media attachment of a scheduled item.
// Exactly one of URL or Data is set; Data is base64-encoded content.
type MediaRecord struct {
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
	Kind string `json:"kind,omitempty"` // image | gif | video
}

// ItemRecord is the persisted form of a scheduled item.
// Trigger handles are never serialized; after a restart every trigger
// is void until recovery re-arms it.
type ItemRecord struct {
	ID           string        `json:"id"`
	Text         string        `json:"text"`
	Media        []MediaRecord `json:"media,omitempty"`
	ScheduleTime time.Time     `json:"schedule_time"`
	Status       string        `json:"status"` // scheduled | posted | failed
	Error        string        `json:"error,omitempty"`
}

// PostRecord is one successfully published post.
type PostRecord struct {
	PostID   string    `json:"post_id"`
	ItemID   string    `json:"item_id"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"posted_at"`
	HasMedia bool      `json:"has_media"`
}

type Engagement struct {
	Likes    int64 `json:"likes"`
	Retweets int64 `json:"retweets"`
	Replies  int64 `json:"replies"`
}

// AnalyticsRecord is the persisted analytics document.
// Impressions and Engagement are keyed by post ID.
type AnalyticsRecord struct {
	Posted      []PostRecord          `json:"posted"`
	Impressions map[string]int64      `json:"impressions"`
	Engagement  map[string]Engagement `json:"engagement"`
}
