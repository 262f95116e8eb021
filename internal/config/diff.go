package config

import (
	"reflect"
	"strings"

	logx "postpilot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like API keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Server
	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Int("server.rate_per_sec", newCfg.Server.RatePerSec),
		)
	}

	// Storage
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	// Scheduler
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.optimal_hour_count", len(newCfg.Scheduler.OptimalHours)),
			logx.String("scheduler.min_gap", newCfg.Scheduler.MinGap),
			logx.Int("scheduler.slot_horizon_days", newCfg.Scheduler.SlotHorizonDays),
		)
	}

	// Posting (never log credentials)
	if oldCfg.Posting != newCfg.Posting {
		changed = append(changed, "posting")
		attrs = append(attrs,
			logx.Bool("posting.keys_set", strings.TrimSpace(newCfg.Posting.APIKey) != ""),
			logx.Int("posting.retry_max", newCfg.Posting.RetryMax),
			logx.Bool("posting.fallback_enabled", newCfg.Posting.Fallback.Enabled),
		)
	}

	// Paraphrase (never log api_key)
	if oldCfg.Paraphrase != newCfg.Paraphrase {
		changed = append(changed, "paraphrase")
		attrs = append(attrs,
			logx.Bool("paraphrase.enabled", newCfg.Paraphrase.Enabled),
			logx.String("paraphrase.model", newCfg.Paraphrase.Model),
		)
	}

	// Notify (never log token)
	oldN := derefNotify(oldCfg.Notify)
	newN := derefNotify(newCfg.Notify)
	if oldN != newN {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newN.Enabled),
			logx.Bool("notify.chat_set", newN.ChatID != 0),
		)
	}

	return changed, attrs
}

func derefNotify(n *NotifyConfig) NotifyConfig {
	if n == nil {
		return NotifyConfig{}
	}
	return *n
}
