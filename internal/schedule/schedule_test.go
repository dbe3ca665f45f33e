package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/pkg/taskman"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, source: "cron"},
		{name: "descriptor", raw: "@every 5s", kind: KindCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCron, source: "cron"},
		{name: "duration", raw: "500ms", kind: KindInterval, source: "duration", every: 500 * time.Millisecond},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, source: "duration", every: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every:00:50", kind: KindInterval, source: "hhmm", every: 50 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: KindInterval, source: "hhmm", every: 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.every, got.Every)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "-5s", "cron:", "every:"} {
		_, err := Parse(raw)
		assert.Error(t, err, raw)
	}
}

func TestCronIntervalFollowsCompletions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 10, 2, 30, 0, time.UTC)
	c, err := NewCronInterval("*/5 * * * *", WithNow(func() time.Time { return now }))
	require.NoError(t, err)
	assert.Equal(t, 150*time.Second, c.Interval())

	now = now.Add(150 * time.Second)
	assert.Equal(t, 150*time.Second, c.Interval(), "stable until the next completion")
	c.TaskCompleted()
	assert.Equal(t, 5*time.Minute, c.Interval())
}

func TestCronIntervalDrivesTask(t *testing.T) {
	t.Parallel()

	wall := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := taskman.NewManualClock(0)
	sup, err := ParseSupplier("@every 10s", WithNow(func() time.Time { return wall }))
	require.NoError(t, err)

	runs := 0
	tk := taskman.NewTask("cron", func(any) { runs++ }, taskman.WithTaskClock(clk))
	tk.SetIntervalSupplier(sup)

	assert.True(t, tk.TryRun(), "first run is immediate")
	assert.False(t, tk.TryRun())

	clk.Advance(10 * time.Second)
	wall = wall.Add(10 * time.Second)
	assert.True(t, tk.TryRun())
	assert.Equal(t, 2, runs)
}

func TestSupplierForInterval(t *testing.T) {
	t.Parallel()

	sup, err := ParseSupplier("250ms")
	require.NoError(t, err)
	assert.Equal(t, taskman.FixedInterval(250*time.Millisecond), sup)

	_, err = ParseSupplier("61 * * * *")
	assert.Error(t, err)
}

func TestDelayedInterval(t *testing.T) {
	t.Parallel()

	d := Delayed(3*time.Second, taskman.FixedInterval(time.Minute))
	assert.Equal(t, 3*time.Second, d.Interval())
	d.TaskCompleted()
	assert.Equal(t, time.Minute, d.Interval())

	bare := Delayed(time.Second, nil)
	bare.TaskCompleted()
	assert.Zero(t, bare.Interval())
}

func TestDelayedForwardsCompletion(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)
	c, err := NewCronInterval("* * * * *", WithNow(func() time.Time { return now }))
	require.NoError(t, err)
	d := Delayed(time.Second, c)

	now = now.Add(15 * time.Second)
	d.TaskCompleted()
	assert.Equal(t, 15*time.Second, d.Interval())
}
