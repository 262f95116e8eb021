package app

import (
	"fmt"
	"strings"
	"time"

	"postpilot/internal/api"
	"postpilot/internal/config"
	"postpilot/internal/notify"
	"postpilot/internal/paraphrase"
	"postpilot/internal/pipeline"
	"postpilot/internal/publisher"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
)

func mapServerConfig(cfg *config.Config) (api.Config, error) {
	readTimeout, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	writeTimeout, err := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 30*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	idleTimeout, err := config.ParseDurationOrDefault("server.idle_timeout", cfg.Server.IdleTimeout, time.Minute)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		RatePerSec:   cfg.Server.RatePerSec,
		Burst:        cfg.Server.Burst,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerPolicy(cfg *config.Config) (scheduler.Policy, error) {
	minGap, err := config.ParseDurationOrDefault("scheduler.min_gap", cfg.Scheduler.MinGap, 30*time.Minute)
	if err != nil {
		return scheduler.Policy{}, err
	}
	pol := scheduler.Policy{
		OptimalHours: cfg.Scheduler.OptimalHours,
		MinGap:       minGap,
		MaxPerHour:   cfg.Scheduler.MaxPerHour,
		HorizonDays:  cfg.Scheduler.SlotHorizonDays,
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return scheduler.Policy{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
		pol.Location = loc
	}
	return pol, nil
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	retryBase, err := config.ParseDurationOrDefault("posting.retry_base", cfg.Posting.RetryBase, time.Minute)
	if err != nil {
		return pipeline.Config{}, err
	}
	metricsDelay, err := config.ParseDurationOrDefault("posting.metrics_delay", cfg.Posting.MetricsDelay, 5*time.Minute)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		RetryMax:     cfg.Posting.RetryMax,
		RetryBase:    retryBase,
		MetricsDelay: metricsDelay,
	}, nil
}

func mapTwitterConfig(cfg *config.Config) publisher.TwitterConfig {
	return publisher.TwitterConfig{
		APIKey:        cfg.Posting.APIKey,
		APISecret:     cfg.Posting.APISecret,
		AccessToken:   cfg.Posting.AccessToken,
		AccessSecret:  cfg.Posting.AccessSecret,
		BaseURL:       cfg.Posting.BaseURL,
		UploadBaseURL: cfg.Posting.UploadBaseURL,
		RatePerSec:    cfg.Posting.RatePerSec,
	}
}

func mapParaphraseConfig(cfg *config.Config) (paraphrase.Config, error) {
	timeout, err := config.ParseDurationOrDefault("paraphrase.timeout", cfg.Paraphrase.Timeout, 30*time.Second)
	if err != nil {
		return paraphrase.Config{}, err
	}
	return paraphrase.Config{
		Enabled: cfg.Paraphrase.Enabled,
		APIKey:  cfg.Paraphrase.APIKey,
		BaseURL: cfg.Paraphrase.BaseURL,
		Model:   cfg.Paraphrase.Model,
		Timeout: timeout,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	if cfg.Notify == nil {
		return notify.Config{}, nil
	}
	retryBase, err := config.ParseDurationOrDefault("notify.retry_base", cfg.Notify.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:    cfg.Notify.Enabled,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
		RetryMax:   cfg.Notify.RetryMax,
		RetryBase:  retryBase,
	}, nil
}
