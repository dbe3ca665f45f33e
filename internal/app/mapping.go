package app

import (
	"fmt"
	"strings"
	"time"

	"taskmgr/internal/config"
	"taskmgr/internal/report"
	"taskmgr/internal/statusserver"
	"taskmgr/internal/storage"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

const (
	defaultIdleDelay    = 10 * time.Millisecond
	defaultReportEvery  = time.Minute
	defaultPublishEvery = time.Second
	defaultControlEvery = 100 * time.Millisecond
)

func mapLogConfig(cfg *config.Config) logx.Config {
	f := cfg.Logging.File
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    f.Enabled,
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	out := storage.Config{Driver: driver, Path: path, Retain: sc.Retain}
	if driver == "sqlite" || driver == "sqlite3" {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	}
	return out, true, nil
}

func mapAsyncConfig(cfg *config.Config) (taskman.AsyncConfig, error) {
	ac := taskman.DefaultAsyncConfig()
	idle, err := config.ParseDurationOrDefault("async.idle_delay", cfg.Async.IdleDelay, defaultIdleDelay)
	if err != nil {
		return ac, err
	}
	ac.IdleDelay = idle
	if cfg.Async.StackSize > 0 {
		ac.StackSize = cfg.Async.StackSize
	}
	if cfg.Async.Priority != nil {
		ac.Priority = *cfg.Async.Priority
	}
	if cfg.Async.Core != nil {
		ac.Core = *cfg.Async.Core
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Async.Watchdog)) {
	case "", "none", "off":
	default:
		ac.Watchdog = true
	}
	return ac, nil
}

type profiling struct {
	enabled        bool
	managerBuckets uint8
	taskBuckets    uint8
	unit           taskman.Unit
}

func mapProfiling(cfg *config.Config) (profiling, error) {
	p := profiling{
		enabled:        cfg.Profiling.Enabled,
		managerBuckets: cfg.Profiling.ManagerBuckets,
		taskBuckets:    cfg.Profiling.TaskBuckets,
	}
	if p.managerBuckets == 0 {
		p.managerBuckets = taskman.DefaultBuckets
	}
	if p.taskBuckets == 0 {
		p.taskBuckets = taskman.DefaultBuckets
	}
	unit, err := taskman.ParseUnit(cfg.Profiling.Unit)
	if err != nil {
		return p, fmt.Errorf("profiling.unit: %w", err)
	}
	p.unit = unit
	return p, nil
}

func mapReportConfig(cfg *config.Config) (report.ReporterConfig, error) {
	every, err := config.ParseDurationOrDefault("report.every", cfg.Report.Every, defaultReportEvery)
	if err != nil {
		return report.ReporterConfig{}, err
	}
	return report.ReporterConfig{
		Every:     every,
		NameWidth: cfg.Report.NameWidth,
		PerSecond: cfg.Report.PerSecond,
		Burst:     cfg.Report.Burst,
	}, nil
}

func mapStatusConfig(cfg *config.Config) statusserver.Config {
	return statusserver.Config{
		Enabled: cfg.Status.Enabled,
		Addr:    cfg.Status.Addr,
		Pprof:   cfg.Status.Pprof,
	}
}

func mapPublishEvery(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("status.publish_every", cfg.Status.PublishEvery, defaultPublishEvery)
}
