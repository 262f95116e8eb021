package analytics

import (
	"context"
	"sort"
	"sync"

	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

// MetricsFetcher pulls post metrics from the platform.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, postID string) (impressions int64, eng storage.Engagement, err error)
}

// Log is the append-only record of published posts plus their metrics.
// Every mutation rewrites the persisted document wholesale.
type Log struct {
	log   logx.Logger
	store storage.Store

	mu  sync.Mutex
	rec storage.AnalyticsRecord
}

// Open loads the persisted analytics document (empty if none exists).
func Open(ctx context.Context, store storage.Store, log logx.Logger) (*Log, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	rec, err := store.LoadAnalytics(ctx)
	if err != nil {
		return nil, err
	}
	if rec.Impressions == nil {
		rec.Impressions = map[string]int64{}
	}
	if rec.Engagement == nil {
		rec.Engagement = map[string]storage.Engagement{}
	}
	return &Log{
		log:   log.With(logx.String("comp", "analytics")),
		store: store,
		rec:   rec,
	}, nil
}

// RecordPost appends a published post and seeds zero metrics for it.
func (l *Log) RecordPost(ctx context.Context, p storage.PostRecord) error {
	l.mu.Lock()
	l.rec.Posted = append(l.rec.Posted, p)
	if _, ok := l.rec.Impressions[p.PostID]; !ok {
		l.rec.Impressions[p.PostID] = 0
	}
	if _, ok := l.rec.Engagement[p.PostID]; !ok {
		l.rec.Engagement[p.PostID] = storage.Engagement{}
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	return l.store.SaveAnalytics(ctx, snap)
}

// SetMetrics overwrites the metrics for one post.
func (l *Log) SetMetrics(ctx context.Context, postID string, impressions int64, eng storage.Engagement) error {
	l.mu.Lock()
	l.rec.Impressions[postID] = impressions
	l.rec.Engagement[postID] = eng
	snap := l.snapshotLocked()
	l.mu.Unlock()

	return l.store.SaveAnalytics(ctx, snap)
}

// RefreshMetrics re-fetches metrics for the most recent posts.
// Fetch failures are logged and skipped; metrics are best-effort.
func (l *Log) RefreshMetrics(ctx context.Context, fetcher MetricsFetcher, limit int) {
	if fetcher == nil {
		return
	}
	if limit <= 0 {
		limit = 20
	}

	l.mu.Lock()
	posts := append([]storage.PostRecord(nil), l.rec.Posted...)
	l.mu.Unlock()
	if len(posts) > limit {
		posts = posts[len(posts)-limit:]
	}

	for _, p := range posts {
		if ctx.Err() != nil {
			return
		}
		imp, eng, err := fetcher.FetchMetrics(ctx, p.PostID)
		if err != nil {
			l.log.Debug("metrics fetch failed", logx.String("post_id", p.PostID), logx.Err(err))
			continue
		}
		if err := l.SetMetrics(ctx, p.PostID, imp, eng); err != nil {
			l.log.Warn("metrics persist failed", logx.String("post_id", p.PostID), logx.Err(err))
		}
	}
}

// Snapshot returns a deep copy of the current record.
func (l *Log) Snapshot() storage.AnalyticsRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Log) snapshotLocked() storage.AnalyticsRecord {
	cp := storage.AnalyticsRecord{
		Posted:      append([]storage.PostRecord(nil), l.rec.Posted...),
		Impressions: make(map[string]int64, len(l.rec.Impressions)),
		Engagement:  make(map[string]storage.Engagement, len(l.rec.Engagement)),
	}
	if cp.Posted == nil {
		cp.Posted = []storage.PostRecord{}
	}
	for k, v := range l.rec.Impressions {
		cp.Impressions[k] = v
	}
	for k, v := range l.rec.Engagement {
		cp.Engagement[k] = v
	}
	return cp
}

// TopPost is one entry of the Summary ranking.
type TopPost struct {
	PostID      string             `json:"postId"`
	Text        string             `json:"text"`
	Impressions int64              `json:"impressions"`
	Engagement  storage.Engagement `json:"engagement"`
}

// Summary aggregates the log for the analytics endpoint.
type Summary struct {
	TotalPosts          int                `json:"totalPosts"`
	HourlyDistribution  [24]int            `json:"hourlyDistribution"`
	WeekdayDistribution [7]int             `json:"weekdayDistribution"`
	TotalImpressions    int64              `json:"totalImpressions"`
	TotalEngagement     storage.Engagement `json:"totalEngagement"`
	TopPosts            []TopPost          `json:"topPosts"`
}

// Summarize computes distribution and ranking stats.
func (l *Log) Summarize() Summary {
	rec := l.Snapshot()

	s := Summary{TotalPosts: len(rec.Posted), TopPosts: []TopPost{}}
	for _, p := range rec.Posted {
		s.HourlyDistribution[p.PostedAt.Hour()]++
		s.WeekdayDistribution[int(p.PostedAt.Weekday())]++
	}
	for _, v := range rec.Impressions {
		s.TotalImpressions += v
	}
	for _, e := range rec.Engagement {
		s.TotalEngagement.Likes += e.Likes
		s.TotalEngagement.Retweets += e.Retweets
		s.TotalEngagement.Replies += e.Replies
	}

	for _, p := range rec.Posted {
		s.TopPosts = append(s.TopPosts, TopPost{
			PostID:      p.PostID,
			Text:        p.Text,
			Impressions: rec.Impressions[p.PostID],
			Engagement:  rec.Engagement[p.PostID],
		})
	}
	sort.SliceStable(s.TopPosts, func(i, j int) bool {
		return s.TopPosts[i].Impressions > s.TopPosts[j].Impressions
	})
	if len(s.TopPosts) > 5 {
		s.TopPosts = s.TopPosts[:5]
	}
	return s
}
