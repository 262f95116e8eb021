// Package app wires the scheduling engine together: config, logging,
// storage, the posting pipeline, the HTTP facade, and background jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"postpilot/internal/analytics"
	"postpilot/internal/api"
	"postpilot/internal/config"
	"postpilot/internal/eventbus"
	"postpilot/internal/notify"
	"postpilot/internal/paraphrase"
	"postpilot/internal/pipeline"
	"postpilot/internal/publisher"
	rtsup "postpilot/internal/runtime/supervisor"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

const metricsRefreshLimit = 20

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	an      *analytics.Log
	para    *paraphrase.Client
	twitter *publisher.TwitterClient
	pipe    *pipeline.Pipeline
	reg     *scheduler.Registry
	notif   *notify.Service

	srv     *api.Server
	httpSrv *http.Server
	cron    *cron.Cron

	settleDelay   time.Duration
	sweepInterval time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	an, err := analytics.Open(context.Background(), store, logSvc.Logger().With(logx.String("comp", "analytics")))
	if err != nil {
		return nil, err
	}

	twitter := publisher.NewTwitterClient(mapTwitterConfig(cfg), logSvc.Logger())
	var fallback publisher.FallbackPublisher
	if cfg.Posting.Fallback.Enabled {
		fallback = publisher.NewRapidClient(publisher.RapidConfig{
			URL:  cfg.Posting.Fallback.URL,
			Key:  cfg.Posting.Fallback.Key,
			Host: cfg.Posting.Fallback.Host,
		}, logSvc.Logger())
	}

	paraCfg, err := mapParaphraseConfig(cfg)
	if err != nil {
		return nil, err
	}
	para := paraphrase.New(paraCfg, logSvc.Logger())

	pipeCfg, err := mapPipelineConfig(cfg)
	if err != nil {
		return nil, err
	}
	pipe := pipeline.New(pipeCfg, para, twitter, fallback, an, twitter, logSvc.Logger())

	pol, err := mapSchedulerPolicy(cfg)
	if err != nil {
		return nil, err
	}
	reg := scheduler.NewRegistry(store, pipe, bus, pol, logSvc.Logger())

	var notif *notify.Service
	if cfg.Notify != nil && cfg.Notify.Enabled {
		sender, err := notify.NewTelegramSender(cfg.Notify.Token, cfg.Notify.ChatID)
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		ncfg, err := mapNotifyConfig(cfg)
		if err != nil {
			return nil, err
		}
		notif = notify.New(ncfg, sender, bus, logSvc.Logger())
	}

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	srv := api.NewServer(srvCfg, reg, pipe, para, an, logSvc.Logger())

	settleDelay, err := config.ParseDurationOrDefault("scheduler.settle_delay", cfg.Scheduler.SettleDelay, 5*time.Second)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := config.ParseDurationOrDefault("scheduler.sweep_interval", cfg.Scheduler.SweepInterval, 10*time.Minute)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:       cfgPath,
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		an:            an,
		para:          para,
		twitter:       twitter,
		pipe:          pipe,
		reg:           reg,
		notif:         notif,
		srv:           srv,
		settleDelay:   settleDelay,
		sweepInterval: sweepInterval,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	// Recovery: failed items go to the ledger, future items re-arm.
	// Overdue items stay pending until the settle window passes, then a
	// sequential sweep flushes them oldest-first.
	rearmed, overdue, err := a.reg.Recover(a.sup.Context())
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	a.log.Info("schedule recovered", logx.Int("rearmed", rearmed), logx.Int("overdue", overdue))
	if overdue > 0 {
		a.sup.Go0("recovery.settle", func(c context.Context) {
			t := time.NewTimer(a.settleDelay)
			defer t.Stop()
			select {
			case <-c.Done():
				return
			case <-t.C:
			}
			n, err := a.reg.TriggerOverdueSweep(c)
			if err != nil {
				a.log.Warn("overdue flush after recovery failed", logx.Err(err))
				return
			}
			a.log.Info("overdue posts flushed", logx.Int("count", n))
		})
	}

	if a.notif != nil && a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	// Periodic jobs: overdue sweep safety net plus hourly metrics refresh.
	a.cron = cron.New()
	if a.sweepInterval > 0 {
		if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", a.sweepInterval), func() {
			if n, err := a.reg.TriggerOverdueSweep(a.sup.Context()); err != nil {
				a.log.Warn("overdue sweep failed", logx.Err(err))
			} else if n > 0 {
				a.log.Info("overdue sweep executed posts", logx.Int("count", n))
			}
		}); err != nil {
			return fmt.Errorf("cron sweep: %w", err)
		}
	}
	if _, err := a.cron.AddFunc("0 * * * *", func() {
		cctx, cancel := context.WithTimeout(a.sup.Context(), 2*time.Minute)
		defer cancel()
		a.an.RefreshMetrics(cctx, a.twitter, metricsRefreshLimit)
	}); err != nil {
		return fmt.Errorf("cron metrics: %w", err)
	}
	a.cron.Start()

	a.httpSrv = a.srv.HTTPServer()
	a.sup.Go("http.serve", func(context.Context) error {
		a.log.Info("http listening", logx.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Debug-level event trace; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg

				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				for _, s := range sections {
					switch s {
					case "logging":
						// applied live above
					default:
						a.log.Warn("config section changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", 3*time.Second, func(c context.Context) error {
		if a.httpSrv == nil {
			return nil
		}
		return a.httpSrv.Shutdown(c)
	})
	step("cron", 2*time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		done := a.cron.Stop()
		select {
		case <-done.Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("scheduler", time.Second, func(context.Context) error {
		a.reg.StopTimers()
		return nil
	})
	step("notify", 2*time.Second, func(c context.Context) error {
		if a.notif != nil {
			a.notif.Stop(c)
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		return a.store.Close()
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
