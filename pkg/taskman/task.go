package taskman

import (
	"time"

	"taskmgr/pkg/histogram"
	"taskmgr/pkg/logx"
)

// Task wraps a unit of work with its scheduling state.
//
// The zero value is not usable; create tasks with NewTask or Manager.NewTask.
type Task struct {
	name string
	fn   Func
	data any

	typ      Type
	enabled  Predicate        // nil = always enabled
	interval IntervalSupplier // nil = every pass
	onDone   DoneCallback
	debug    Predicate

	paused  bool
	running bool

	// lastEnd is only meaningful when ended is true. ended == false means the
	// task never ran or an early run was requested.
	lastEnd time.Duration
	ended   bool

	stats *histogram.Histogram
	unit  Unit

	manager *Manager
	slot    int

	clock    Clock
	clockSet bool
	log      logx.Logger
	logSet   bool

	launcher Launcher
	watchdog Watchdog

	// async is the task's own driver; asyncLauncher is the launcher that
	// spawned it.
	async         Handle
	asyncLauncher Launcher
	asyncCfg      AsyncConfig
}

// TaskOption configures a task at construction.
type TaskOption func(*Task)

// OfType sets the task type. OneShot tasks start paused.
func OfType(typ Type) TaskOption { return func(t *Task) { t.SetType(typ) } }

// Every sets a fixed interval.
func Every(d time.Duration) TaskOption { return func(t *Task) { t.SetInterval(d) } }

// WithData sets the opaque value handed to the work function.
func WithData(v any) TaskOption { return func(t *Task) { t.data = v } }

// WithTaskClock overrides the clock. Attached tasks otherwise use their
// manager's clock.
func WithTaskClock(c Clock) TaskOption {
	return func(t *Task) {
		if c != nil {
			t.clock = c
			t.clockSet = true
		}
	}
}

// WithTaskLogger overrides the logger. Attached tasks otherwise derive one
// from their manager.
func WithTaskLogger(l logx.Logger) TaskOption {
	return func(t *Task) {
		t.log = l
		t.logSet = true
	}
}

// WithTaskLauncher sets the launcher used by Task.AsyncStart. Attached tasks
// without one fall back to their manager's launcher.
func WithTaskLauncher(l Launcher) TaskOption { return func(t *Task) { t.launcher = l } }

// WithTaskWatchdog sets the watchdog armed by Task.AsyncStart. Attached tasks
// without one fall back to their manager's watchdog.
func WithTaskWatchdog(w Watchdog) TaskOption { return func(t *Task) { t.watchdog = w } }

// InManager attaches the task to m at construction.
func InManager(m *Manager) TaskOption { return func(t *Task) { t.SetManager(m) } }

// NewTask creates a standalone REPEATING task that runs every pass.
//
// It panics if fn is nil.
func NewTask(name string, fn Func, opts ...TaskOption) *Task {
	if fn == nil {
		panic("taskman: NewTask " + name + ": nil work function")
	}
	t := &Task{
		name:  name,
		fn:    fn,
		clock: SystemClock(),
		slot:  -1,
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t
}

func (t *Task) Name() string { return t.name }
func (t *Task) Type() Type   { return t.typ }

// Data returns the opaque value handed to the work function.
func (t *Task) Data() any { return t.data }

// Interval returns the current interval (0 when none is set).
func (t *Task) Interval() time.Duration {
	if t.interval == nil {
		return 0
	}
	if d := t.interval.Interval(); d > 0 {
		return d
	}
	return 0
}

// RemainingTime returns how long until the interval elapses, or 0 when the
// task is due on interval grounds.
func (t *Task) RemainingTime() time.Duration {
	itvl := t.Interval()
	if itvl == 0 || !t.ended {
		return 0
	}
	next := t.lastEnd + itvl
	if now := t.clock.Now(); next > now {
		return next - now
	}
	return 0
}

// IsEnabled evaluates the enabled predicate. Tasks without one are enabled.
func (t *Task) IsEnabled() bool { return t.enabled == nil || t.enabled.Test() }

// IsPaused reports whether the task is skipped by due-checks until resumed.
func (t *Task) IsPaused() bool { return t.paused }

// IsRunning is true only while the work function executes.
func (t *Task) IsRunning() bool { return t.running }

// IsEarlyRunRequested reports whether the next due-check ignores the
// interval, which is the case before the first run and after RequestEarlyRun.
func (t *Task) IsEarlyRunRequested() bool { return !t.ended }

// LastEnd returns the clock reading of the last completion.
func (t *Task) LastEnd() (time.Duration, bool) { return t.lastEnd, t.ended }

// IsManaged reports whether the task is attached to a manager.
func (t *Task) IsManaged() bool { return t.manager != nil }

// Manager returns the owning manager, or nil for a standalone task.
func (t *Task) Manager() *Manager { return t.manager }

// IsProfiled reports whether runs are recorded into a histogram.
func (t *Task) IsProfiled() bool { return t.stats != nil }

// IsDebug evaluates the debug predicate.
func (t *Task) IsDebug() bool { return t.debug != nil && t.debug.Test() }

// ProfilingUnit returns the unit of the task histogram.
func (t *Task) ProfilingUnit() Unit { return t.unit }

func (t *Task) Logger() logx.Logger { return t.log }

// Clock returns the clock used for due-checks, the manager's once attached
// unless one was set with WithTaskClock.
func (t *Task) Clock() Clock { return t.clock }

// Histogram returns the profiling histogram, or nil when profiling is off.
func (t *Task) Histogram() *histogram.Histogram { return t.stats }

// ShouldRun reports whether the task is due now.
func (t *Task) ShouldRun() bool { return t.due(t.clock.Now()) }

func (t *Task) due(now time.Duration) bool {
	if t.paused {
		return false
	}
	if t.enabled != nil && !t.enabled.Test() {
		return false
	}
	if !t.ended || t.interval == nil {
		return true
	}
	itvl := t.interval.Interval()
	return itvl <= 0 || now-t.lastEnd >= itvl
}

// SetType changes the type. OneShot pauses the task, Repeating resumes it.
func (t *Task) SetType(typ Type) {
	t.typ = typ
	t.paused = typ == OneShot
}

// SetEnabled replaces any enabled predicate: true removes it (always
// enabled), false installs AlwaysFalse. This also discards a predicate set by
// SetEnabledWhen.
func (t *Task) SetEnabled(enabled bool) {
	if enabled {
		t.enabled = nil
	} else {
		t.enabled = AlwaysFalse
	}
}

// SetEnabledWhen gates the task on p. nil means always enabled.
func (t *Task) SetEnabledWhen(p Predicate) { t.enabled = p }

// SetInterval sets a fixed interval. Zero removes the interval.
func (t *Task) SetInterval(d time.Duration) {
	if d <= 0 {
		t.interval = nil
		return
	}
	t.interval = FixedInterval(d)
}

// SetIntervalSupplier installs a dynamic interval. nil removes the interval.
func (t *Task) SetIntervalSupplier(s IntervalSupplier) { t.interval = s }

// SetCallback sets the completion callback. nil removes it.
func (t *Task) SetCallback(cb DoneCallback) { t.onDone = cb }

// SetData sets the opaque value handed to the work function.
func (t *Task) SetData(v any) { t.data = v }

// SetDebug toggles per-run debug logging.
func (t *Task) SetDebug(debug bool) {
	if debug {
		t.debug = AlwaysTrue
	} else {
		t.debug = nil
	}
}

// SetDebugWhen enables per-run debug logging while p holds.
func (t *Task) SetDebugWhen(p Predicate) { t.debug = p }

// SetManager attaches the task to m. Attaching to the current manager is a
// no-op; attaching to a second manager panics. SetManager(nil) detaches.
func (t *Task) SetManager(m *Manager) {
	if m == t.manager {
		return
	}
	if m == nil {
		t.Detach()
		return
	}
	if t.manager != nil {
		panic("taskman: task " + t.name + " already attached to manager " + t.manager.name)
	}
	m.attach(t)
}

// Detach removes the task from its manager, if any.
func (t *Task) Detach() {
	if t.manager != nil {
		t.manager.Remove(t)
	}
}

// Close detaches the task and releases its histogram.
func (t *Task) Close() {
	t.Detach()
	t.stats = nil
}

// Pause stops the task from running until it is resumed.
func (t *Task) Pause() { t.paused = true }

// Resume unpauses the task. It becomes due according to its usual rules.
func (t *Task) Resume() { t.paused = false }

// ResumeIn unpauses the task and schedules its next run delay from now by
// setting the interval to delay and stamping the last completion to now.
// A zero delay behaves like Resume.
func (t *Task) ResumeIn(delay time.Duration) {
	if delay > 0 {
		t.SetInterval(delay)
		t.lastEnd = t.clock.Now()
		t.ended = true
	}
	t.paused = false
}

// RequestEarlyRun makes the next due-check ignore the interval.
func (t *Task) RequestEarlyRun() { t.ended = false }

// TryRun runs the task if it is due and reports whether it ran.
func (t *Task) TryRun() bool {
	now := t.clock.Now()
	if !t.due(now) {
		return false
	}
	t.run(now)
	return true
}

// ForceRun runs the task regardless of its state.
func (t *Task) ForceRun() { t.run(t.clock.Now()) }

func (t *Task) run(start time.Duration) {
	t.exec()
	end := t.clock.Now()
	t.lastEnd = end
	t.ended = true
	if t.typ == OneShot {
		t.paused = true
	}

	elapsed := end - start
	if elapsed < 0 {
		elapsed = 0
	}

	if obs, ok := t.interval.(CompletionObserver); ok {
		obs.TaskCompleted()
	}
	if t.debug != nil && t.debug.Test() {
		t.log.Debug("task ran", logx.String("task", t.name), logx.Duration("elapsed", elapsed))
	}
	if t.stats != nil {
		t.stats.Record(uint64(elapsed.Microseconds()))
	}
	if t.onDone != nil {
		t.onDone.TaskDone(t, elapsed)
	}
}

// exec runs the work function. A panic propagates to the caller of
// TryRun/ForceRun/Loop; running is reset either way.
func (t *Task) exec() {
	t.running = true
	defer func() { t.running = false }()
	t.fn(t.data)
}

// EnableProfiling attaches a histogram with the given bucket count and unit.
// It returns false if profiling was already enabled.
func (t *Task) EnableProfiling(buckets uint8, unit Unit) bool {
	if t.stats != nil {
		return false
	}
	t.stats = histogram.New(buckets, unit.Divisor())
	t.unit = unit
	t.log.Debug("profiling enabled", logx.String("task", t.name), logx.Int("buckets", int(buckets)), logx.String("unit", unit.String()))
	return true
}

// DisableProfiling drops the histogram. It returns false if profiling was off.
func (t *Task) DisableProfiling() bool {
	if t.stats == nil {
		return false
	}
	t.stats = nil
	t.log.Debug("profiling disabled", logx.String("task", t.name))
	return true
}
