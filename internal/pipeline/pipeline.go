package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postpilot/internal/analytics"
	"postpilot/internal/publisher"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

// Paraphraser rewrites post text. ok=false means the original text is
// returned and posting continues with it.
type Paraphraser interface {
	Paraphrase(ctx context.Context, text string) (string, bool)
}

// Config controls retry and metrics behavior.
//
// Defaults: RetryMax 3, RetryBase 1m, MetricsDelay 5m.
// Rate-limit waits double per attempt: RetryBase, 2*RetryBase, ...
type Config struct {
	RetryMax     int
	RetryBase    time.Duration
	MetricsDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Minute
	}
	return c
}

// Pipeline executes one posting attempt end to end:
// paraphrase -> media upload -> publish (with rate-limit retries) ->
// fallback -> analytics. Each Run owns all of its state, so concurrent
// executions never interfere.
type Pipeline struct {
	log      logx.Logger
	cfg      Config
	para     Paraphraser
	pub      publisher.Publisher
	fallback publisher.FallbackPublisher
	an       *analytics.Log
	metrics  analytics.MetricsFetcher

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	after func(d time.Duration, f func()) *time.Timer
}

func New(cfg Config, para Paraphraser, pub publisher.Publisher, fallback publisher.FallbackPublisher, an *analytics.Log, metrics analytics.MetricsFetcher, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	if fallback == nil {
		fallback = publisher.Disabled()
	}
	return &Pipeline{
		log:      log.With(logx.String("comp", "pipeline")),
		cfg:      cfg.withDefaults(),
		para:     para,
		pub:      pub,
		fallback: fallback,
		an:       an,
		metrics:  metrics,
		sleep:    sleepCtx,
		now:      time.Now,
		after:    time.AfterFunc,
	}
}

// Execute adapts Run to the registry's executor contract.
func (p *Pipeline) Execute(ctx context.Context, it scheduler.Item) (string, error) {
	res, err := p.Run(ctx, it)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

var _ scheduler.Executor = (*Pipeline)(nil)

// Run publishes one item and records it in analytics on success.
func (p *Pipeline) Run(ctx context.Context, it scheduler.Item) (publisher.PostResult, error) {
	log := p.log.With(logx.String("id", it.ID))

	text, rewrote := p.para.Paraphrase(ctx, it.Text)
	if !rewrote {
		log.Debug("posting original text")
	}

	handles, rawMedia := p.uploadMedia(ctx, log, it.Media)

	res, err := p.publishWithRetry(ctx, log, text, handles, rawMedia)
	if err != nil {
		return publisher.PostResult{}, err
	}

	if p.an != nil {
		rec := storage.PostRecord{
			PostID:   res.ID,
			ItemID:   it.ID,
			Text:     it.Text,
			PostedAt: p.now(),
			HasMedia: len(it.Media) > 0,
		}
		if aerr := p.an.RecordPost(ctx, rec); aerr != nil {
			log.Warn("analytics record failed", logx.Err(aerr))
		}
		p.scheduleMetricsFetch(res.ID)
	}

	return res, nil
}

// uploadMedia pushes each attachment individually. A failed upload is
// logged and skipped; the post still goes out with whatever made it.
func (p *Pipeline) uploadMedia(ctx context.Context, log logx.Logger, media []scheduler.MediaRef) ([]publisher.MediaHandle, []publisher.Media) {
	var handles []publisher.MediaHandle
	var raw []publisher.Media
	for i, m := range media {
		pm := publisher.Media{URL: m.URL, Data: m.Data, Kind: m.Kind}
		raw = append(raw, pm)
		h, err := p.pub.UploadMedia(ctx, pm)
		if err != nil {
			log.Warn("media upload failed; skipping attachment",
				logx.Int("index", i), logx.String("kind", m.Kind), logx.Err(err))
			continue
		}
		handles = append(handles, h)
	}
	return handles, raw
}

// publishWithRetry makes up to RetryMax attempts against the primary.
// Only rate limiting is retried; the waits double per attempt. After
// the final rate-limited attempt the fallback transport gets one shot.
func (p *Pipeline) publishWithRetry(ctx context.Context, log logx.Logger, text string, handles []publisher.MediaHandle, rawMedia []publisher.Media) (publisher.PostResult, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryMax; attempt++ {
		res, err := p.pub.Publish(ctx, text, handles)
		if err == nil {
			return res, nil
		}

		var rl *publisher.RateLimitedError
		if !errors.As(err, &rl) {
			return publisher.PostResult{}, err
		}
		lastErr = err

		if attempt == p.cfg.RetryMax {
			break
		}
		wait := p.cfg.RetryBase << (attempt - 1)
		log.Warn("rate limited; backing off",
			logx.Int("attempt", attempt),
			logx.Duration("wait", wait),
			logx.Duration("hint", rl.RetryAfter),
		)
		if serr := p.sleep(ctx, wait); serr != nil {
			return publisher.PostResult{}, serr
		}
	}

	log.Warn("primary exhausted; trying fallback", logx.Err(lastErr))
	res, ferr := p.fallback.Publish(ctx, text, rawMedia)
	if ferr != nil {
		return publisher.PostResult{}, fmt.Errorf("primary: %v; fallback: %v", lastErr, ferr)
	}
	log.Info("posted via fallback", logx.String("post_id", res.ID))
	return res, nil
}

// scheduleMetricsFetch arms a one-shot delayed metrics pull for a fresh
// post. Best effort: errors are swallowed, the process exiting first is
// fine.
func (p *Pipeline) scheduleMetricsFetch(postID string) {
	if p.metrics == nil || p.cfg.MetricsDelay <= 0 {
		return
	}
	p.after(p.cfg.MetricsDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		imp, eng, err := p.metrics.FetchMetrics(ctx, postID)
		if err != nil {
			p.log.Debug("delayed metrics fetch failed", logx.String("post_id", postID), logx.Err(err))
			return
		}
		if err := p.an.SetMetrics(ctx, postID, imp, eng); err != nil {
			p.log.Debug("delayed metrics persist failed", logx.String("post_id", postID), logx.Err(err))
		}
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
