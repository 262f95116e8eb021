package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field constraints and duration syntax.
// It is installed as the manager's validator hook so bad reloads are
// rejected before commit/publish.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch d := strings.TrimSpace(strings.ToLower(cfg.Storage.Driver)); d {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	for _, h := range cfg.Scheduler.OptimalHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("scheduler.optimal_hours: hour %d out of range [0,23]", h)
		}
	}
	if cfg.Scheduler.MaxPerHour < 0 {
		return fmt.Errorf("scheduler.max_per_hour: must be >= 0")
	}
	if cfg.Scheduler.SlotHorizonDays < 0 {
		return fmt.Errorf("scheduler.slot_horizon_days: must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"scheduler.min_gap", cfg.Scheduler.MinGap},
		{"scheduler.settle_delay", cfg.Scheduler.SettleDelay},
		{"scheduler.sweep_interval", cfg.Scheduler.SweepInterval},
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
		{"posting.retry_base", cfg.Posting.RetryBase},
		{"posting.metrics_delay", cfg.Posting.MetricsDelay},
		{"paraphrase.timeout", cfg.Paraphrase.Timeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if cfg.Posting.RetryMax < 0 {
		return fmt.Errorf("posting.retry_max: must be >= 0")
	}
	if cfg.Posting.Fallback.Enabled && strings.TrimSpace(cfg.Posting.Fallback.URL) == "" {
		return fmt.Errorf("posting.fallback.url: required when fallback is enabled")
	}

	if n := cfg.Notify; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			return fmt.Errorf("notify.token: required when notify is enabled")
		}
		if n.ChatID == 0 {
			return fmt.Errorf("notify.chat_id: required when notify is enabled")
		}
		if _, err := ParseDurationField("notify.retry_base", n.RetryBase); err != nil {
			return err
		}
	}

	return nil
}
