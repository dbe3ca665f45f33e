package config

// Config is the file configuration of the taskmgr binary.
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Manager   ManagerConfig   `json:"manager"`
	Async     AsyncConfig     `json:"async"`
	Profiling ProfilingConfig `json:"profiling"`
	Report    ReportConfig    `json:"report"`
	Status    StatusConfig    `json:"status"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Tasks     []TaskConfig    `json:"tasks" validate:"dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `json:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" validate:"gte=0"`
	Compress   bool   `json:"compress,omitempty"`
}

type ManagerConfig struct {
	Name     string `json:"name" validate:"required"`
	MaxTasks int    `json:"max_tasks,omitempty" validate:"gte=0"`
}

// AsyncConfig selects between driving the manager from a supervised
// background goroutine (enabled) or from the main goroutine.
type AsyncConfig struct {
	Enabled   bool   `json:"enabled"`
	IdleDelay string `json:"idle_delay,omitempty"` // default "10ms"; "0s" yields instead
	StackSize uint32 `json:"stack_size,omitempty"`
	// Priority and Core default to -1 (inherit).
	Priority *int `json:"priority,omitempty"`
	Core     *int `json:"core,omitempty"`

	Watchdog        string `json:"watchdog,omitempty" validate:"omitempty,oneof=none off systemd timer"`
	WatchdogTimeout string `json:"watchdog_timeout,omitempty"`
}

type ProfilingConfig struct {
	Enabled        bool   `json:"enabled"`
	Unit           string `json:"unit,omitempty" validate:"omitempty,oneof=us µs ms s"`
	TaskBuckets    uint8  `json:"task_buckets,omitempty"`
	ManagerBuckets uint8  `json:"manager_buckets,omitempty"`
}

type ReportConfig struct {
	Enabled   bool    `json:"enabled"`
	Every     string  `json:"every,omitempty"` // default "1m"
	NameWidth int     `json:"name_width,omitempty" validate:"gte=0,lte=200"`
	PerSecond float64 `json:"per_second,omitempty" validate:"gte=0"`
	Burst     int     `json:"burst,omitempty" validate:"gte=0"`
}

type StatusConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Pprof        bool   `json:"pprof,omitempty"`
	PublishEvery string `json:"publish_every,omitempty"` // default "1s"
}

// StorageConfig controls the run-record store.
//
//	"storage": { "driver": "sqlite", "path": "./data/taskmgr.sqlite", "retain": 10000 }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Retain      int    `json:"retain,omitempty" validate:"gte=0"`
	Buffer      int    `json:"buffer,omitempty" validate:"gte=0"`
}

// TaskConfig declares one task bound to a built-in action.
type TaskConfig struct {
	Name   string `json:"name" validate:"required"`
	Action string `json:"action" validate:"required,oneof=noop heartbeat sleep busy gc memstats"`
	// Schedule is a cron expression, a duration or HH:MM; empty runs every pass.
	Schedule string `json:"schedule,omitempty"`
	Type     string `json:"type,omitempty" validate:"omitempty,oneof=repeating one_shot"`
	Paused   bool   `json:"paused,omitempty"`
	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
	Debug   bool  `json:"debug,omitempty"`
	// StartDelay resumes a paused or one-shot task after the delay.
	StartDelay string `json:"start_delay,omitempty"`
	// Duration is used by the sleep and busy actions.
	Duration string `json:"duration,omitempty"`
	Message  string `json:"message,omitempty"`
	// Record sends every run to the run store.
	Record bool `json:"record,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (t TaskConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }
