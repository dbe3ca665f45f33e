package app

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/internal/config"
	"taskmgr/internal/storage"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

func boolPtr(v bool) *bool { return &v }

func testConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error"},
		Manager: config.ManagerConfig{Name: "main"},
		Async:   config.AsyncConfig{IdleDelay: "1ms"},
		Status:  config.StatusConfig{PublishEvery: "5ms"},
		Report:  config.ReportConfig{Every: "1h"},
		Tasks: []config.TaskConfig{
			{Name: "spin", Action: "noop"},
			{Name: "beat", Action: "heartbeat", Schedule: "1h"},
			{Name: "later", Action: "noop", Type: "one_shot"},
		},
	}
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func TestRunForeground(t *testing.T) {
	a, err := NewFromConfig(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Run(ctx))

	m := a.Manager()
	assert.Equal(t, 3+builtinTasks, m.Len())
	assert.Greater(t, a.bindings["spin"].state.runs.Load(), uint64(1))
	assert.Equal(t, uint64(1), a.bindings["beat"].state.runs.Load())
	assert.Zero(t, a.bindings["later"].state.runs.Load(), "one-shot tasks wait for Resume")

	snap := a.Snapshots().Latest()
	require.NotNil(t, snap)
	assert.Contains(t, snap.Tasks, "spin")
	assert.False(t, snap.Async)

	stopApp(t, a)
}

func TestRunAsyncRecordsRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Async.Enabled = true
	cfg.Storage = &config.StorageConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "runs")}
	cfg.Tasks[0].Record = true
	cfg.Profiling = config.ProfilingConfig{Enabled: true, Unit: "us"}

	a, err := NewFromConfig(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		s := a.Snapshots().Latest()
		return s != nil && s.Async && s.Profiled && a.sink.Written() > 0
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, a.Run(ctx))
	stopApp(t, a)
	assert.False(t, a.Manager().IsAsync())

	st, err := storage.Open(storage.Config{Driver: "file", Path: cfg.Storage.Path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), "spin", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "main", runs[0].Manager)
}

func TestApplyConfigReconfiguresTasks(t *testing.T) {
	a, err := NewFromConfig(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)

	next := testConfig()
	next.Tasks[0].Paused = true
	next.Tasks[1].Schedule = "30m"
	next.Tasks[1].Message = "still here"
	next.Tasks[2].Enabled = boolPtr(false)
	next.Profiling = config.ProfilingConfig{Enabled: true}
	next.Report.Enabled = true
	next.Report.Every = "10s"

	a.reloads = make(chan *config.Config, 2)
	a.reloads <- testConfig()
	a.reloads <- next
	a.drainReloads()

	assert.Same(t, next, a.applied)
	assert.True(t, a.bindings["spin"].task.IsPaused())
	assert.Equal(t, 30*time.Minute, a.bindings["beat"].task.Interval())
	assert.Equal(t, "still here", a.bindings["beat"].state.message)
	assert.False(t, a.bindings["later"].task.IsEnabled())
	assert.True(t, a.Manager().IsProfiled())
	assert.True(t, a.reporter.Task().IsEnabled())
	assert.Equal(t, 10*time.Second, a.reporter.Task().Interval())

	// Profiling off again drops every histogram.
	off := testConfig()
	a.applyConfig(off)
	assert.False(t, a.Manager().IsProfiled())
	assert.False(t, a.bindings["spin"].task.IsPaused())
	assert.True(t, a.bindings["later"].task.IsEnabled())
}

func TestApplyConfigIgnoresAddedAndDisablesRemoved(t *testing.T) {
	a, err := NewFromConfig(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)

	next := testConfig()
	next.Tasks = append(next.Tasks[1:], config.TaskConfig{Name: "fresh", Action: "gc"})
	a.applyConfig(next)

	_, ok := a.Manager().Task("fresh")
	assert.False(t, ok)
	assert.False(t, a.bindings["spin"].task.IsEnabled())
}

func TestStartTwiceFails(t *testing.T) {
	a, err := NewFromConfig(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)
	assert.Error(t, a.Start(ctx))
}

func TestNewFromConfigRejectsInvalid(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks[0].Action = "explode"
	_, err := NewFromConfig(cfg)
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	cfg := testConfig()
	cfg.Profiling.Enabled = true

	var buf bytes.Buffer
	require.NoError(t, Export(cfg, &buf, "json"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "main", doc["name"])
	assert.Contains(t, doc, "stats")
	tasks, ok := doc["tasks"].([]any)
	require.True(t, ok)
	require.Len(t, tasks, 3)
	later := tasks[2].(map[string]any)
	assert.Equal(t, taskman.OneShot.String(), later["type"])
	assert.Equal(t, true, later["paused"])

	buf.Reset()
	require.NoError(t, Export(cfg, &buf, "yaml"))
	assert.Contains(t, buf.String(), "name: main")
}
