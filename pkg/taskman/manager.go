package taskman

import (
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"taskmgr/pkg/histogram"
	"taskmgr/pkg/logx"
)

// Manager owns an ordered collection of tasks and drives scheduling passes.
type Manager struct {
	name string

	// tasks is in registration order. Removed tasks leave a nil hole that is
	// compacted outside of a pass, so a pass never loses its position.
	tasks    []*Task
	holes    int
	maxTasks int
	inPass   bool

	stats *histogram.Histogram
	unit  Unit

	clock    Clock
	log      logx.Logger
	yield    func()
	launcher Launcher
	watchdog Watchdog

	async    Handle
	asyncCfg AsyncConfig
	// asyncOn mirrors async != nil for readers on the driver goroutine.
	asyncOn atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock shared by attached tasks that have no clock of
// their own.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the manager logger. Attached tasks log through it too.
func WithLogger(l logx.Logger) ManagerOption { return func(m *Manager) { m.log = l } }

// WithYield replaces the cooperative yield called after each task run.
// The default is runtime.Gosched.
func WithYield(fn func()) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.yield = fn
		}
	}
}

// WithLauncher sets the collaborator used by AsyncStart.
func WithLauncher(l Launcher) ManagerOption { return func(m *Manager) { m.launcher = l } }

// WithWatchdog sets the watchdog armed by AsyncStart when requested.
func WithWatchdog(w Watchdog) ManagerOption { return func(m *Manager) { m.watchdog = w } }

// WithCapacity preallocates room for n tasks.
func WithCapacity(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.tasks = make([]*Task, 0, n)
		}
	}
}

// WithMaxTasks bounds the collection. Attaching beyond n tasks panics.
func WithMaxTasks(n int) ManagerOption { return func(m *Manager) { m.maxTasks = n } }

// NewManager creates an empty manager.
func NewManager(name string, opts ...ManagerOption) *Manager {
	m := &Manager{
		name:  name,
		clock: SystemClock(),
		yield: runtime.Gosched,
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	m.log = m.log.With(logx.String("manager", name))
	return m
}

func (m *Manager) Name() string { return m.name }

// Clock returns the clock handed to attached tasks that have none of their own.
func (m *Manager) Clock() Clock { return m.clock }

// Logger returns the manager logger; attached tasks derive theirs from it.
func (m *Manager) Logger() logx.Logger { return m.log }

// Len returns the number of attached tasks.
func (m *Manager) Len() int { return len(m.tasks) - m.holes }

// Tasks returns the attached tasks in scheduling order.
func (m *Manager) Tasks() []*Task {
	out := make([]*Task, 0, m.Len())
	for _, t := range m.tasks {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Task returns the first attached task with the given name.
func (m *Manager) Task(name string) (*Task, bool) {
	for _, t := range m.tasks {
		if t != nil && t.name == name {
			return t, true
		}
	}
	return nil, false
}

// NewTask creates a task attached to this manager.
func (m *Manager) NewTask(name string, fn Func, opts ...TaskOption) *Task {
	t := NewTask(name, fn, opts...)
	t.SetManager(m)
	return t
}

// Add attaches t. It is equivalent to t.SetManager(m).
func (m *Manager) Add(t *Task) {
	if t == nil {
		panic("taskman: Add called with nil task")
	}
	t.SetManager(m)
}

func (m *Manager) attach(t *Task) {
	if m.maxTasks > 0 && m.Len() >= m.maxTasks {
		panic("taskman: manager " + m.name + " is full (" + strconv.Itoa(m.maxTasks) + " tasks), cannot add " + t.name)
	}
	t.manager = m
	t.slot = len(m.tasks)
	m.tasks = append(m.tasks, t)
	if !t.clockSet {
		t.clock = m.clock
	}
	if !t.logSet {
		t.log = m.log.With(logx.String("task", t.name))
	}
	m.log.Debug("task added", logx.String("task", t.name), logx.Int("size", m.Len()))
}

// Remove detaches t. It is a no-op if t is not attached to m.
//
// Remove is safe during a pass, including from t's own work function or
// callback: the slot is cleared in place and compacted after the pass.
func (m *Manager) Remove(t *Task) {
	if t == nil || t.manager != m {
		return
	}
	if t.slot >= 0 && t.slot < len(m.tasks) && m.tasks[t.slot] == t {
		m.tasks[t.slot] = nil
		m.holes++
	}
	t.manager = nil
	t.slot = -1
	m.log.Debug("task removed", logx.String("task", t.name), logx.Int("size", m.Len()))
	if !m.inPass && m.holes*2 > len(m.tasks) {
		m.compact()
	}
}

func (m *Manager) compact() {
	if m.holes == 0 {
		return
	}
	j := 0
	for _, t := range m.tasks {
		if t == nil {
			continue
		}
		t.slot = j
		m.tasks[j] = t
		j++
	}
	for i := j; i < len(m.tasks); i++ {
		m.tasks[i] = nil
	}
	m.tasks = m.tasks[:j]
	m.holes = 0
}

// Loop runs one scheduling pass and returns how many tasks ran.
//
// Tasks attached during the pass are first considered on the next pass.
// Loop is not reentrant: calling it from a task running inside a pass of the
// same manager panics.
func (m *Manager) Loop() int {
	if m.inPass {
		panic("taskman: manager " + m.name + ": Loop called during a pass")
	}
	m.inPass = true
	defer m.endPass()

	start := m.clock.Now()
	executed := 0
	n := len(m.tasks)
	for i := 0; i < n && i < len(m.tasks); i++ {
		t := m.tasks[i]
		if t == nil {
			continue
		}
		if t.TryRun() {
			executed++
			m.yield()
		}
	}

	if executed > 0 && m.stats != nil {
		elapsed := m.clock.Now() - start
		if elapsed < 0 {
			elapsed = 0
		}
		m.stats.Record(uint64(elapsed.Microseconds()))
	}
	return executed
}

func (m *Manager) endPass() {
	m.inPass = false
	m.compact()
}

// Pause pauses every task.
func (m *Manager) Pause() {
	for _, t := range m.tasks {
		if t != nil {
			t.Pause()
		}
	}
}

// Resume resumes every task.
func (m *Manager) Resume() {
	for _, t := range m.tasks {
		if t != nil {
			t.Resume()
		}
	}
}

// SetEnabled calls SetEnabled on every task.
func (m *Manager) SetEnabled(enabled bool) {
	for _, t := range m.tasks {
		if t != nil {
			t.SetEnabled(enabled)
		}
	}
}

// RequestEarlyRun requests an early run on every task.
func (m *Manager) RequestEarlyRun() {
	for _, t := range m.tasks {
		if t != nil {
			t.RequestEarlyRun()
		}
	}
}

// EnableProfiling enables profiling on every attached task. Tasks that are
// already profiled keep their histogram.
func (m *Manager) EnableProfiling(taskBuckets uint8, unit Unit) {
	for _, t := range m.tasks {
		if t != nil {
			t.EnableProfiling(taskBuckets, unit)
		}
	}
}

// EnableProfilingWith additionally enables the manager's pass histogram
// with managerBuckets buckets.
func (m *Manager) EnableProfilingWith(managerBuckets, taskBuckets uint8, unit Unit) {
	if m.stats == nil {
		m.stats = histogram.New(managerBuckets, unit.Divisor())
		m.unit = unit
		m.log.Debug("manager profiling enabled", logx.Int("buckets", int(managerBuckets)), logx.String("unit", unit.String()))
	}
	m.EnableProfiling(taskBuckets, unit)
}

// DisableProfiling drops the manager histogram and every task histogram.
func (m *Manager) DisableProfiling() {
	if m.stats != nil {
		m.stats = nil
		m.log.Debug("manager profiling disabled")
	}
	for _, t := range m.tasks {
		if t != nil {
			t.DisableProfiling()
		}
	}
}

// IsProfiled reports whether the manager records pass durations.
func (m *Manager) IsProfiled() bool { return m.stats != nil }

// Histogram returns the pass histogram, or nil.
func (m *Manager) Histogram() *histogram.Histogram { return m.stats }

// ProfilingUnit returns the unit of the pass histogram.
func (m *Manager) ProfilingUnit() Unit { return m.unit }

// AsyncConfig describes the background driver started by AsyncStart.
type AsyncConfig struct {
	// StackSize, Priority and Core are forwarded to the Launcher. Priority and
	// Core use -1 for "inherit from caller".
	StackSize uint32
	Priority  int
	Core      int

	// IdleDelay is slept after a pass that ran nothing. Zero yields instead.
	IdleDelay time.Duration

	// Watchdog arms the manager's watchdog for the driver.
	Watchdog bool
}

// DefaultAsyncConfig mirrors the defaults of embedded hosts.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{StackSize: 4096, Priority: -1, Core: -1, IdleDelay: 10 * time.Millisecond}
}

// AsyncStart hands Loop to the configured Launcher, which calls it forever
// until AsyncStop. While the driver runs, the caller must not touch the
// manager or its tasks from another goroutine without its own
// synchronization.
func (m *Manager) AsyncStart(cfg AsyncConfig) error {
	if m.async != nil {
		return ErrAsyncRunning
	}
	if m.launcher == nil {
		return ErrNoLauncher
	}
	spec := SpawnSpec{
		Name:      m.name,
		Pass:      m.Loop,
		IdleDelay: cfg.IdleDelay,
		StackSize: cfg.StackSize,
		Priority:  cfg.Priority,
		Core:      cfg.Core,
	}
	if cfg.Watchdog {
		if m.watchdog == nil {
			return ErrNoWatchdog
		}
		spec.Watchdog = m.watchdog
	}
	m.asyncOn.Store(true)
	h, err := m.launcher.Spawn(spec)
	if err != nil {
		m.asyncOn.Store(false)
		return err
	}
	m.async = h
	m.asyncCfg = cfg
	m.log.Debug("async driver started",
		logx.Duration("idle_delay", cfg.IdleDelay),
		logx.Bool("watchdog", cfg.Watchdog),
		logx.Int("core", cfg.Core),
		logx.Int("priority", cfg.Priority),
	)
	return nil
}

// AsyncStop stops the background driver and waits for its current pass to
// finish. It returns ErrAsyncNotRunning when no driver is active.
func (m *Manager) AsyncStop() error {
	h := m.async
	if h == nil {
		return ErrAsyncNotRunning
	}
	m.launcher.Stop(h)
	m.async = nil
	m.asyncOn.Store(false)
	m.log.Debug("async driver stopped")
	return nil
}

// IsAsync reports whether a background driver is active.
func (m *Manager) IsAsync() bool { return m.asyncOn.Load() }

// AsyncConfig returns the configuration of the active driver.
func (m *Manager) AsyncConfig() (AsyncConfig, bool) { return m.asyncCfg, m.async != nil }
