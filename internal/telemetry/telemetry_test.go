package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/internal/eventbus"
	"taskmgr/internal/storage"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

type memStore struct {
	mu   sync.Mutex
	runs []storage.RunRecord
	err  error
}

func (m *memStore) AppendRun(_ context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) RecentRuns(context.Context, string, int) ([]storage.RunRecord, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func TestRecorderToStore(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	store := &memStore{}
	sink := NewSink(bus, store, 16, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	clk := taskman.NewManualClock(0)
	m := taskman.NewManager("main", taskman.WithClock(clk), taskman.WithYield(func() {}))
	rec := NewRecorder(bus)
	m.NewTask("a", func(any) {}).SetCallback(rec)
	m.NewTask("b", func(any) {}).SetCallback(rec)

	require.Equal(t, 2, m.Loop())
	require.Eventually(t, func() bool { return store.len() == 2 }, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(2), sink.Written())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "main", store.runs[0].Manager)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{store.runs[0].Task, store.runs[1].Task})
}

func TestSinkCountsFailuresAndDrains(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	store := &memStore{err: errors.New("disk full")}
	sink := NewSink(bus, store, 4, logx.Nop())

	tk := taskman.NewTask("solo", func(any) {}, taskman.WithTaskClock(taskman.NewManualClock(0)))
	tk.SetCallback(NewRecorder(bus))
	tk.ForceRun()
	tk.ForceRun()
	bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sink.Run(ctx))
	assert.Equal(t, uint64(2), sink.Failed())
	assert.Zero(t, sink.Written())
}
