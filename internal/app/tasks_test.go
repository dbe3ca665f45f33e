package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/internal/config"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

func manualManager() (*taskman.Manager, *taskman.ManualClock) {
	clk := taskman.NewManualClock(time.Second)
	return taskman.NewManager("test", taskman.WithClock(clk)), clk
}

func TestBindTaskStartDelay(t *testing.T) {
	t.Parallel()

	m, clk := manualManager()
	b, err := bindTask(m, config.TaskConfig{Name: "d", Action: "noop", Schedule: "1m", StartDelay: "5s"}, nil, logx.Nop())
	require.NoError(t, err)

	assert.Zero(t, m.Loop())
	assert.Equal(t, 5*time.Second, b.task.RemainingTime())

	clk.Advance(5 * time.Second)
	assert.Equal(t, 1, m.Loop())
	assert.Equal(t, time.Minute, b.task.Interval())
	assert.Zero(t, m.Loop())
}

func TestBindTaskOneShotWithDelay(t *testing.T) {
	t.Parallel()

	m, clk := manualManager()
	b, err := bindTask(m, config.TaskConfig{Name: "once", Action: "noop", Type: "one_shot", StartDelay: "2s"}, nil, logx.Nop())
	require.NoError(t, err)
	assert.False(t, b.task.IsPaused())

	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, m.Loop())
	assert.True(t, b.task.IsPaused())
	assert.Zero(t, m.Loop())
	assert.Equal(t, uint64(1), b.state.runs.Load())
}

func TestBindTaskFlags(t *testing.T) {
	t.Parallel()

	m, _ := manualManager()
	b, err := bindTask(m, config.TaskConfig{
		Name:    "f",
		Action:  "gc",
		Paused:  true,
		Enabled: boolPtr(false),
		Debug:   true,
	}, nil, logx.Nop())
	require.NoError(t, err)
	assert.True(t, b.task.IsPaused())
	assert.False(t, b.task.IsEnabled())
	assert.True(t, b.task.IsDebug())
	assert.Zero(t, m.Loop())

	_, err = bindTask(m, config.TaskConfig{Name: "x", Action: "explode"}, nil, logx.Nop())
	assert.Error(t, err)
	_, err = bindTask(m, config.TaskConfig{Name: "y", Action: "noop", Schedule: "whenever"}, nil, logx.Nop())
	assert.Error(t, err)
}

func TestReconfigure(t *testing.T) {
	t.Parallel()

	m, _ := manualManager()
	tc := config.TaskConfig{Name: "r", Action: "sleep", Duration: "1ms", Schedule: "10s"}
	b, err := bindTask(m, tc, nil, logx.Nop())
	require.NoError(t, err)

	var done int
	rec := taskman.DoneFunc(func(*taskman.Task, time.Duration) { done++ })

	next := tc
	next.Type = "one_shot"
	next.Record = true
	next.Duration = "2ms"
	require.NoError(t, b.reconfigure(next, rec))
	assert.Equal(t, taskman.OneShot, b.task.Type())
	assert.True(t, b.task.IsPaused())
	assert.Equal(t, 2*time.Millisecond, b.state.duration)
	assert.Equal(t, 10*time.Second, b.task.Interval(), "unchanged schedule is kept")

	b.task.ForceRun()
	assert.Equal(t, 1, done)

	bad := next
	bad.Action = "gc"
	assert.Error(t, b.reconfigure(bad, rec))

	bad = next
	bad.Duration = "soon"
	assert.Error(t, b.reconfigure(bad, rec))
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	_, ok, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "none"}})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file"}})
	assert.Error(t, err)

	sc, ok, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "db", Retain: 5}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)
	assert.Equal(t, 5, sc.Retain)
}

func TestMapAsyncConfig(t *testing.T) {
	t.Parallel()

	ac, err := mapAsyncConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, taskman.DefaultAsyncConfig(), ac)

	core, prio := 2, 0
	ac, err = mapAsyncConfig(&config.Config{Async: config.AsyncConfig{
		IdleDelay: "0s",
		Core:      &core,
		Priority:  &prio,
		Watchdog:  "timer",
	}})
	require.NoError(t, err)
	assert.Zero(t, ac.IdleDelay)
	assert.Equal(t, 2, ac.Core)
	assert.Equal(t, 0, ac.Priority)
	assert.True(t, ac.Watchdog)
}

func TestMapProfiling(t *testing.T) {
	t.Parallel()

	p, err := mapProfiling(&config.Config{Profiling: config.ProfilingConfig{Enabled: true, TaskBuckets: 4}})
	require.NoError(t, err)
	assert.True(t, p.enabled)
	assert.Equal(t, uint8(4), p.taskBuckets)
	assert.Equal(t, uint8(taskman.DefaultBuckets), p.managerBuckets)
	assert.Equal(t, taskman.Milliseconds, p.unit)

	_, err = mapProfiling(&config.Config{Profiling: config.ProfilingConfig{Unit: "ns"}})
	assert.Error(t, err)
}
