package taskman

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/pkg/logx"
)

func TestStatsLineFormat(t *testing.T) {
	t.Parallel()

	tk := NewTask("t", func(any) {}, WithTaskClock(NewManualClock(0)))
	_, ok := tk.StatsLine(4)
	assert.False(t, ok, "no line without profiling")

	require.True(t, tk.EnableProfiling(3, Milliseconds))
	_, ok = tk.StatsLine(4)
	assert.False(t, ok, "no line before the first sample")

	for _, us := range []uint64{0, 3000, 100000} {
		tk.Histogram().Record(us)
	}
	line, ok := tk.StatsLine(4)
	require.True(t, ok)
	assert.Equal(t, "| t    |     1 < 2^1 ms |     1 < 2^2 ms |     1 >= 2^2 ms | count: 3", line)
}

func TestStatsLineTruncatesName(t *testing.T) {
	t.Parallel()

	tk := NewTask("a-very-long-name", func(any) {}, WithTaskClock(NewManualClock(0)))
	tk.EnableProfiling(1, Microseconds)
	tk.Histogram().Record(7)
	line, ok := tk.StatsLine(6)
	require.True(t, ok)
	assert.Equal(t, "| a-very |     1 >= 2^0 us | count: 1", line)
}

func TestTaskLogMarksProcessed(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tk := NewTask("t", func(any) {},
		WithTaskClock(NewManualClock(0)),
		WithTaskLogger(logx.New(&buf, logx.LevelInfo)),
	)
	tk.EnableProfiling(2, Milliseconds)
	assert.False(t, tk.Log(DefaultNameWidth))

	tk.ForceRun()
	assert.True(t, tk.Log(DefaultNameWidth))
	assert.False(t, tk.Histogram().Updated())
	assert.Contains(t, buf.String(), "count: 1")

	buf.Reset()
	assert.False(t, tk.Log(DefaultNameWidth), "nothing new since the last line")
	assert.Empty(t, buf.String())
}

func TestClearedHistogramLogsNothing(t *testing.T) {
	t.Parallel()

	tk := NewTask("t", func(any) {}, WithTaskClock(NewManualClock(0)))
	tk.EnableProfiling(2, Milliseconds)
	tk.ForceRun()
	tk.Histogram().Clear()
	_, ok := tk.StatsLine(DefaultNameWidth)
	assert.False(t, ok)

	tk.ForceRun()
	line, ok := tk.StatsLine(DefaultNameWidth)
	require.True(t, ok)
	assert.Contains(t, line, "count: 1")
}

func TestManagerLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	m := NewManager("mgr",
		WithClock(&stepClock{step: time.Millisecond}),
		WithYield(func() {}),
		WithLogger(logx.New(&buf, logx.LevelInfo)),
	)
	m.NewTask("a", func(any) {})
	m.NewTask("b", func(any) {})
	m.NewTask("c", func(any) {}).Pause()
	m.EnableProfilingWith(4, 4, Milliseconds)

	assert.Zero(t, m.Log(DefaultNameWidth))
	require.Equal(t, 2, m.Loop())
	assert.Equal(t, 3, m.Log(DefaultNameWidth))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "| a ")
	assert.Contains(t, lines[1], "| b ")
	assert.Contains(t, lines[2], "| mgr ")

	assert.Zero(t, m.Log(DefaultNameWidth))
}
