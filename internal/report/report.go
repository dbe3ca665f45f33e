// Package report turns a manager's profiling data into log lines and
// published snapshots. Both run as ordinary tasks inside the manager they
// observe, so they read scheduler state from the loop goroutine only.
package report

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"taskmgr/internal/eventbus"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Every     time.Duration
	NameWidth int
	// PerSecond and Burst bound how many reports may be written; excess
	// reports are skipped until the limiter refills.
	PerSecond float64
	Burst     int
}

// Reporter periodically writes the histogram table of a manager.
type Reporter struct {
	m     *taskman.Manager
	cfg   ReporterConfig
	lim   *rate.Limiter
	bus   eventbus.Bus
	log   logx.Logger
	task  *taskman.Task
	lines atomic.Uint64
	skips atomic.Uint64
}

// NewReporter registers a REPEATING task named "report" in m. bus may be nil.
func NewReporter(m *taskman.Manager, cfg ReporterConfig, bus eventbus.Bus) *Reporter {
	if cfg.NameWidth <= 0 {
		cfg.NameWidth = taskman.DefaultNameWidth
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.PerSecond > 0 {
		if cfg.Burst <= 0 {
			cfg.Burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)
	}
	r := &Reporter{m: m, cfg: cfg, lim: lim, bus: bus, log: m.Logger()}
	r.task = m.NewTask("report", func(any) { r.Report() }, taskman.Every(cfg.Every))
	return r
}

// Task returns the task driving the reporter.
func (r *Reporter) Task() *taskman.Task { return r.task }

// Report writes one table if the limiter allows it and returns the number of
// lines written.
func (r *Reporter) Report() int {
	if !r.lim.Allow() {
		r.skips.Add(1)
		return 0
	}
	n := r.m.Log(r.cfg.NameWidth)
	if n == 0 {
		return 0
	}
	r.lines.Add(uint64(n))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeStatsLogged, Data: n})
	}
	return n
}

// Lines returns how many stats lines were written; Skipped how many reports
// the limiter refused.
func (r *Reporter) Lines() uint64   { return r.lines.Load() }
func (r *Reporter) Skipped() uint64 { return r.skips.Load() }
