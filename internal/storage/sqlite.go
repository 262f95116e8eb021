//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "postpilot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr("mkdir", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, wrapErr("migrate", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSchedule(ctx context.Context) ([]ItemRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, media, schedule_time, status, err FROM scheduled_items ORDER BY schedule_time`)
	if err != nil {
		return nil, wrapErr("load schedule", err)
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		var (
			it       ItemRecord
			media    sql.NullString
			schedRaw string
			errStr   sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.Text, &media, &schedRaw, &it.Status, &errStr); err != nil {
			return nil, wrapErr("scan schedule", err)
		}
		if media.Valid && media.String != "" {
			if err := json.Unmarshal([]byte(media.String), &it.Media); err != nil {
				return nil, wrapErr("decode media", err)
			}
		}
		t, err := time.Parse(time.RFC3339Nano, schedRaw)
		if err != nil {
			return nil, wrapErr("parse schedule_time", err)
		}
		it.ScheduleTime = t
		it.Error = errStr.String
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("load schedule", err)
	}
	return items, nil
}

// SaveSchedule replaces the whole snapshot in one transaction, matching
// the wholesale-rewrite contract of the file driver.
func (s *sqliteStore) SaveSchedule(ctx context.Context, items []ItemRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("save schedule", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_items`); err != nil {
		return wrapErr("save schedule", err)
	}
	for _, it := range items {
		var media any
		if len(it.Media) > 0 {
			b, err := json.Marshal(it.Media)
			if err != nil {
				return wrapErr("encode media", err)
			}
			media = string(b)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_items(id, text, media, schedule_time, status, err) VALUES(?,?,?,?,?,?)`,
			it.ID, it.Text, media, it.ScheduleTime.UTC().Format(time.RFC3339Nano), it.Status, nullStr(it.Error),
		)
		if err != nil {
			return wrapErr("save schedule", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("save schedule", err)
	}
	return nil
}

func (s *sqliteStore) LoadAnalytics(ctx context.Context) (AnalyticsRecord, error) {
	if s == nil || s.db == nil {
		return AnalyticsRecord{}, ErrDisabled
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM analytics_doc WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyAnalytics(), nil
	}
	if err != nil {
		return AnalyticsRecord{}, wrapErr("load analytics", err)
	}
	var rec AnalyticsRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return AnalyticsRecord{}, wrapErr("decode analytics", err)
	}
	if rec.Impressions == nil {
		rec.Impressions = map[string]int64{}
	}
	if rec.Engagement == nil {
		rec.Engagement = map[string]Engagement{}
	}
	return rec, nil
}

func (s *sqliteStore) SaveAnalytics(ctx context.Context, rec AnalyticsRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return wrapErr("encode analytics", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics_doc(id, doc) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET doc=excluded.doc`,
		string(b),
	)
	if err != nil {
		return wrapErr("save analytics", err)
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
