package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Server  ServerConfig  `json:"server"`

	// Storage controls the persistence layer for the schedule snapshot
	// and the analytics log.
	Storage StorageConfig `json:"storage"`

	// Scheduler controls slot allocation and recovery behavior.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Posting controls the primary and fallback posting transports.
	Posting PostingConfig `json:"posting"`

	Paraphrase ParaphraseConfig `json:"paraphrase"`
	Notify     *NotifyConfig    `json:"notify,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig controls the HTTP API server.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr         string `json:"addr"` // default: "127.0.0.1:3000"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Global token-bucket limit across all API requests. 0 disables.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./postpilot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls slot allocation and startup recovery.
//
// Defaults (when fields are omitted/zero):
//   - optimal_hours: 7,8,9,12,13,17,18,19,20,21
//   - min_gap: "30m"
//   - max_per_hour: 1
//   - slot_horizon_days: 7
//   - settle_delay: "5s"
//   - sweep_interval: "10m"
type SchedulerConfig struct {
	OptimalHours []int `json:"optimal_hours,omitempty"`

	// MinGap is the minimum spacing between any two scheduled posts.
	MinGap     string `json:"min_gap,omitempty"`
	MaxPerHour int    `json:"max_per_hour,omitempty"`

	// SlotHorizonDays bounds the auto-schedule scan before giving up.
	SlotHorizonDays int `json:"slot_horizon_days,omitempty"`

	// SettleDelay is how long recovery waits after boot before flushing
	// overdue items.
	SettleDelay string `json:"settle_delay,omitempty"`

	// SweepInterval is the period of the background overdue sweep.
	// Use "0s" to disable.
	SweepInterval string `json:"sweep_interval,omitempty"`

	Timezone string `json:"timezone,omitempty"`
}

// PostingConfig controls the primary posting transport and its fallback.
//
// Defaults (when fields are omitted/zero):
//   - retry_max: 3
//   - retry_base: "1m"
//   - rate_per_sec: 1
//   - metrics_delay: "5m"
type PostingConfig struct {
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
	AccessToken  string `json:"access_token"`
	AccessSecret string `json:"access_secret"`

	BaseURL       string `json:"base_url,omitempty"`
	UploadBaseURL string `json:"upload_base_url,omitempty"`

	RetryMax int `json:"retry_max,omitempty"`
	// RetryBase is the first rate-limit backoff; it doubles per attempt.
	RetryBase  string `json:"retry_base,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`

	// MetricsDelay is how long after a successful post the one-shot
	// metrics fetch runs. Use "0s" to disable.
	MetricsDelay string `json:"metrics_delay,omitempty"`

	Fallback FallbackConfig `json:"fallback"`
}

// FallbackConfig is the secondary keyed-POST transport used after the
// primary exhausts its rate-limit retries.
type FallbackConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Key     string `json:"key,omitempty"`
	Host    string `json:"host,omitempty"`
}

// ParaphraseConfig controls the pre-post rewrite step.
// Disabled or misconfigured paraphrasing degrades to the original text.
type ParaphraseConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default: "30s"
}

// NotifyConfig controls operator notifications (Telegram).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, notifications are disabled.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}
