package taskman

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(clk Clock, opts ...ManagerOption) *Manager {
	return NewManager("test", append([]ManagerOption{WithClock(clk), WithYield(func() {})}, opts...)...)
}

func TestLoopFirstPassRunsEverythingThenHonorsIntervals(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(0)
	m := newTestManager(clk)
	var runs []string
	rec := func(name string) Func { return func(any) { runs = append(runs, name) } }

	m.NewTask("a", rec("a"))
	m.NewTask("b", rec("b"))
	m.NewTask("c", rec("c"), Every(1000*time.Microsecond))

	assert.Equal(t, 3, m.Loop())
	assert.Equal(t, []string{"a", "b", "c"}, runs)

	runs = nil
	assert.Equal(t, 2, m.Loop())
	assert.Equal(t, []string{"a", "b"}, runs)

	clk.Advance(time.Millisecond)
	runs = nil
	assert.Equal(t, 3, m.Loop())
	assert.Equal(t, []string{"a", "b", "c"}, runs)
}

func TestLoopYieldsAfterEachRun(t *testing.T) {
	t.Parallel()

	yields := 0
	m := NewManager("y", WithClock(NewManualClock(0)), WithYield(func() { yields++ }))
	m.NewTask("a", func(any) {})
	m.NewTask("b", func(any) {}).Pause()
	m.NewTask("c", func(any) {})

	assert.Equal(t, 2, m.Loop())
	assert.Equal(t, 2, yields)
}

func TestAttachmentRules(t *testing.T) {
	t.Parallel()

	m1 := newTestManager(NewManualClock(0))
	m2 := newTestManager(NewManualClock(0))
	tk := NewTask("t", func(any) {})

	assert.False(t, tk.IsManaged())
	m1.Add(tk)
	assert.True(t, tk.IsManaged())
	assert.Same(t, m1, tk.Manager())
	assert.Same(t, m1.Clock(), tk.Clock(), "attached tasks adopt the manager clock")

	tk.SetManager(m1) // no-op
	assert.Equal(t, 1, m1.Len())

	assert.Panics(t, func() { tk.SetManager(m2) })
	assert.Panics(t, func() { m2.Add(nil) })

	tk.Detach()
	assert.False(t, tk.IsManaged())
	assert.Zero(t, m1.Len())

	m2.Add(tk)
	assert.Same(t, m2, tk.Manager())

	tk.SetManager(nil)
	assert.Zero(t, m2.Len())
}

func TestExplicitTaskClockIsKept(t *testing.T) {
	t.Parallel()

	own := NewManualClock(time.Hour)
	m := newTestManager(NewManualClock(0))
	tk := m.NewTask("t", func(any) {}, WithTaskClock(own))
	assert.Same(t, own, tk.Clock())
}

func TestMaxTasksPanics(t *testing.T) {
	t.Parallel()

	m := newTestManager(NewManualClock(0), WithMaxTasks(2), WithCapacity(2))
	m.NewTask("a", func(any) {})
	b := m.NewTask("b", func(any) {})
	assert.Panics(t, func() { m.NewTask("c", func(any) {}) })

	b.Detach()
	assert.NotPanics(t, func() { m.NewTask("c", func(any) {}) })
}

func TestRemoveKeepsOrder(t *testing.T) {
	t.Parallel()

	m := newTestManager(NewManualClock(0))
	tasks := make([]*Task, 5)
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		tasks[i] = m.NewTask(name, func(any) {})
	}
	m.Remove(tasks[1])
	m.Remove(tasks[3])
	m.Remove(tasks[3]) // already removed

	var names []string
	for _, tk := range m.Tasks() {
		names = append(names, tk.Name())
	}
	assert.Equal(t, []string{"a", "c", "e"}, names)
	assert.Equal(t, 3, m.Len())

	got, ok := m.Task("e")
	require.True(t, ok)
	assert.Same(t, tasks[4], got)
	_, ok = m.Task("b")
	assert.False(t, ok)

	// Slots stay consistent after compaction.
	m.Remove(tasks[4])
	m.Remove(tasks[0])
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, m.Loop())
}

func TestRemoveSelfFromCallbackDuringPass(t *testing.T) {
	t.Parallel()

	m := newTestManager(NewManualClock(0))
	counts := map[string]int{}
	rec := func(name string) Func { return func(any) { counts[name]++ } }

	m.NewTask("a", rec("a"))
	b := m.NewTask("b", rec("b"))
	m.NewTask("c", rec("c"))
	m.NewTask("d", rec("d"))
	b.SetCallback(DoneFunc(func(me *Task, _ time.Duration) { me.Detach() }))

	assert.Equal(t, 4, m.Loop())
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, counts)
	assert.Equal(t, 3, m.Len())
	assert.False(t, b.IsManaged())

	assert.Equal(t, 3, m.Loop())
	assert.Equal(t, map[string]int{"a": 2, "b": 1, "c": 2, "d": 2}, counts)
}

func TestRemoveOtherTaskDuringPass(t *testing.T) {
	t.Parallel()

	m := newTestManager(NewManualClock(0))
	counts := map[string]int{}
	var c *Task
	m.NewTask("a", func(any) {
		counts["a"]++
		m.Remove(c)
	})
	m.NewTask("b", func(any) { counts["b"]++ })
	c = m.NewTask("c", func(any) { counts["c"]++ })
	m.NewTask("d", func(any) { counts["d"]++ })

	assert.Equal(t, 3, m.Loop())
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "d": 1}, counts)
}

func TestAddDuringPassRunsNextPass(t *testing.T) {
	t.Parallel()

	m := newTestManager(NewManualClock(0))
	var late *Task
	lateRuns := 0
	m.NewTask("spawner", func(any) {
		if late == nil {
			late = m.NewTask("late", func(any) { lateRuns++ })
		}
	})

	assert.Equal(t, 1, m.Loop())
	assert.Zero(t, lateRuns)
	assert.Equal(t, 2, m.Loop())
	assert.Equal(t, 1, lateRuns)
}

func TestLoopReentryPanics(t *testing.T) {
	t.Parallel()

	m := newTestManager(NewManualClock(0))
	m.NewTask("reenter", func(any) { m.Loop() })
	assert.Panics(t, func() { m.Loop() })

	// The pass state is reset after the panic.
	m.Tasks()[0].Close()
	assert.NotPanics(t, func() { m.Loop() })
}

func TestBulkOperations(t *testing.T) {
	t.Parallel()

	m := newTestManager(NewManualClock(0))
	a := m.NewTask("a", func(any) {})
	b := m.NewTask("b", func(any) {}, Every(time.Hour))

	m.Pause()
	assert.True(t, a.IsPaused())
	assert.True(t, b.IsPaused())
	assert.Zero(t, m.Loop())

	m.Resume()
	assert.Equal(t, 2, m.Loop())

	m.SetEnabled(false)
	assert.False(t, a.IsEnabled())
	assert.Zero(t, m.Loop())
	m.SetEnabled(true)
	assert.Equal(t, 1, m.Loop())

	m.RequestEarlyRun()
	assert.Equal(t, 2, m.Loop())
}

func TestManagerProfiling(t *testing.T) {
	t.Parallel()

	clk := &stepClock{step: time.Millisecond}
	m := NewManager("p", WithClock(clk), WithYield(func() {}))
	a := m.NewTask("a", func(any) {})
	b := m.NewTask("b", func(any) {})
	b.Pause()

	m.EnableProfiling(6, Milliseconds)
	assert.True(t, a.IsProfiled())
	assert.False(t, m.IsProfiled())

	m.EnableProfilingWith(8, 6, Milliseconds)
	require.True(t, m.IsProfiled())
	assert.Equal(t, uint8(8), m.Histogram().Buckets())
	assert.Equal(t, uint8(6), a.Histogram().Buckets())

	require.Equal(t, 1, m.Loop())
	assert.Equal(t, uint32(1), m.Histogram().Count())
	assert.Equal(t, uint32(1), a.Histogram().Count())

	m.Pause()
	require.Zero(t, m.Loop())
	assert.Equal(t, uint32(1), m.Histogram().Count(), "idle passes are not recorded")

	m.DisableProfiling()
	assert.False(t, m.IsProfiled())
	assert.False(t, a.IsProfiled())
	assert.False(t, b.IsProfiled())
}

type fakeHandle struct{ done chan struct{} }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

type fakeLauncher struct {
	mu      sync.Mutex
	spawned []SpawnSpec
	stopped int
	err     error
}

func (l *fakeLauncher) Spawn(spec SpawnSpec) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.spawned = append(l.spawned, spec)
	return &fakeHandle{done: make(chan struct{})}, nil
}

func (l *fakeLauncher) Stop(h Handle) {
	l.mu.Lock()
	l.stopped++
	l.mu.Unlock()
	close(h.(*fakeHandle).done)
}

type nopWatchdog struct{}

func (nopWatchdog) Register(string) error { return nil }
func (nopWatchdog) Reset() error          { return nil }
func (nopWatchdog) Unregister() error     { return nil }

func TestAsyncStartStop(t *testing.T) {
	t.Parallel()

	m := newTestManager(NewManualClock(0))
	assert.ErrorIs(t, m.AsyncStart(DefaultAsyncConfig()), ErrNoLauncher)
	assert.ErrorIs(t, m.AsyncStop(), ErrAsyncNotRunning)

	l := &fakeLauncher{}
	m = newTestManager(NewManualClock(0), WithLauncher(l))

	cfg := DefaultAsyncConfig()
	cfg.Watchdog = true
	assert.ErrorIs(t, m.AsyncStart(cfg), ErrNoWatchdog)

	cfg.Watchdog = false
	require.NoError(t, m.AsyncStart(cfg))
	assert.True(t, m.IsAsync())
	assert.ErrorIs(t, m.AsyncStart(cfg), ErrAsyncRunning)

	require.Len(t, l.spawned, 1)
	spec := l.spawned[0]
	assert.Equal(t, "test", spec.Name)
	assert.Equal(t, 10*time.Millisecond, spec.IdleDelay)
	assert.Nil(t, spec.Watchdog)
	m.NewTask("x", func(any) {})
	assert.Equal(t, 1, spec.Pass())

	got, ok := m.AsyncConfig()
	assert.True(t, ok)
	assert.Equal(t, cfg, got)

	require.NoError(t, m.AsyncStop())
	assert.False(t, m.IsAsync())
	assert.Equal(t, 1, l.stopped)
}

func TestAsyncStartWithWatchdog(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(NewManualClock(0), WithLauncher(l), WithWatchdog(nopWatchdog{}))
	cfg := DefaultAsyncConfig()
	cfg.Watchdog = true
	require.NoError(t, m.AsyncStart(cfg))
	assert.NotNil(t, l.spawned[0].Watchdog)
	require.NoError(t, m.AsyncStop())
}

func TestTaskAsyncStartStop(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(0)
	runs := 0
	tk := NewTask("solo", func(any) { runs++ }, WithTaskClock(clk), Every(time.Second))
	assert.ErrorIs(t, tk.AsyncStart(DefaultAsyncConfig()), ErrNoLauncher)
	assert.ErrorIs(t, tk.AsyncStop(), ErrAsyncNotRunning)

	l := &fakeLauncher{}
	tk = NewTask("solo", func(any) { runs++ }, WithTaskClock(clk), Every(time.Second), WithTaskLauncher(l))
	cfg := DefaultAsyncConfig()
	cfg.Watchdog = true
	assert.ErrorIs(t, tk.AsyncStart(cfg), ErrNoWatchdog)

	cfg.Watchdog = false
	cfg.IdleDelay = 0
	require.NoError(t, tk.AsyncStart(cfg))
	assert.True(t, tk.IsAsync())
	assert.ErrorIs(t, tk.AsyncStart(cfg), ErrAsyncRunning)

	require.Len(t, l.spawned, 1)
	spec := l.spawned[0]
	assert.Equal(t, "solo", spec.Name)
	assert.Zero(t, spec.IdleDelay)
	assert.Equal(t, 1, spec.Pass(), "first pass runs the never-run task")
	assert.Equal(t, 0, spec.Pass(), "interval not elapsed")
	clk.Advance(time.Second)
	assert.Equal(t, 1, spec.Pass())
	assert.Equal(t, 2, runs)

	got, ok := tk.AsyncConfig()
	assert.True(t, ok)
	assert.Equal(t, cfg, got)

	require.NoError(t, tk.AsyncStop())
	assert.False(t, tk.IsAsync())
	assert.Equal(t, 1, l.stopped)
}

func TestTaskAsyncFallsBackToManager(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(NewManualClock(0), WithLauncher(l), WithWatchdog(nopWatchdog{}))
	tk := m.NewTask("owned", func(any) {})
	cfg := DefaultAsyncConfig()
	cfg.Watchdog = true
	require.NoError(t, tk.AsyncStart(cfg))
	require.Len(t, l.spawned, 1)
	assert.NotNil(t, l.spawned[0].Watchdog)
	assert.False(t, m.IsAsync(), "the manager driver is separate")
	require.NoError(t, tk.AsyncStop())
}
