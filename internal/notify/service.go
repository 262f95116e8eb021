// Package notify pushes operational updates about the posting lifecycle to a
// Telegram chat. Delivery is asynchronous: events are queued and a worker
// drains the queue with rate limiting and retries, so a slow or unreachable
// Telegram API never blocks the scheduler.
package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"postpilot/internal/eventbus"
	rtsup "postpilot/internal/runtime/supervisor"
	logx "postpilot/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notify disabled")
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify stopped")
)

// Sender delivers a single message to the configured chat.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	Enabled    bool
	QueueSize  int
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
}

// Service implements an async notification pipeline:
// queue + worker + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan string
	sup      *rtsup.Supervisor
	evCancel context.CancelFunc
	stopDone chan struct{} // non-nil while stopping
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	return &Service{
		log:     log.With(logx.String("comp", "notify")),
		sender:  sender,
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Start launches the worker and the bus listener. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan string, s.cfg.QueueSize)
	s.accepting = true

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Notify failures are best-effort; never take down the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	sup.GoRestart("notify.worker", func(c context.Context) error {
		s.workerLoop(c, q)
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping {
			return context.Canceled
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("notify worker exited unexpectedly")
	})

	if s.bus != nil {
		// The event loop gets its own cancel so Stop can halt intake while
		// the worker is still draining the queue.
		evCtx, evCancel := context.WithCancel(sup.Context())
		s.mu.Lock()
		s.evCancel = evCancel
		s.mu.Unlock()
		sup.Go0("notify.events", func(context.Context) {
			s.eventLoop(evCtx)
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	evCancel := s.evCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	if evCancel != nil {
		evCancel()
	}

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.evCancel = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues a message for async delivery.
func (s *Service) Notify(ctx context.Context, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- text:
		return nil
	default:
		s.log.Warn("notification dropped", logx.Int("queue", cap(q)))
		return ErrQueueFull
	}
}

func (s *Service) eventLoop(ctx context.Context) {
	ch, unsub := s.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if text := formatEvent(e); text != "" {
				_ = s.Notify(ctx, text)
			}
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan string) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, text)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, text string) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		// Bound per-send call so a hung API doesn't wedge the worker.
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.sender.Send(callCtx, text)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		s.log.Warn("notification dropped after retries", logx.Err(lastErr))
	}
}

const snippetLen = 80

func formatEvent(e eventbus.Event) string {
	p, ok := e.Data.(eventbus.PostEvent)
	if !ok {
		return ""
	}
	switch e.Type {
	case eventbus.EventPostScheduled:
		return fmt.Sprintf("\U0001F4C5 scheduled for %s: %s",
			p.ScheduleTime.Format("2006-01-02 15:04 MST"), snippet(p.Text))
	case eventbus.EventPostPosted:
		return fmt.Sprintf("✅ posted (%s): %s", p.PostID, snippet(p.Text))
	case eventbus.EventPostFailed:
		return fmt.Sprintf("\U0001F6A8 post failed: %s: %s", snippet(p.Text), p.Error)
	case eventbus.EventPostCancelled:
		return fmt.Sprintf("❌ cancelled: %s", snippet(p.Text))
	default:
		return ""
	}
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= snippetLen {
		return text
	}
	return string(r[:snippetLen]) + "…"
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	const maxD = 10 * time.Second

	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
