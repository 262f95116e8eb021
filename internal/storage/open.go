package storage

import (
	"context"
	"errors"
	"strings"

	logx "postpilot/pkg/logx"
)

// Store is the persistence API used by the scheduler and analytics.
// Save* replace the whole document; Load* return empty (not an error)
// when nothing has been persisted yet.
type Store interface {
	LoadSchedule(ctx context.Context) ([]ItemRecord, error)
	SaveSchedule(ctx context.Context, items []ItemRecord) error
	LoadAnalytics(ctx context.Context) (AnalyticsRecord, error)
	SaveAnalytics(ctx context.Context, rec AnalyticsRecord) error
	Close() error
}

// Open initializes the configured store.
// An empty driver defaults to "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
