// Package telemetry moves task completions out of the scheduling loop and
// into a run store.
//
// A Recorder is installed as a task's done callback and publishes a RunEvent
// on the event bus; a Sink goroutine consumes those events and appends them
// to a storage.Store. Publishing never blocks the loop: when the sink falls
// behind, events are dropped and counted by the bus.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"taskmgr/internal/eventbus"
	"taskmgr/internal/storage"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

// RunEvent is the payload of eventbus.TypeTaskRun events.
type RunEvent struct {
	Manager string
	Task    string
	Elapsed time.Duration
	At      time.Time
}

// Recorder is a taskman.DoneCallback that publishes every completion.
type Recorder struct {
	bus eventbus.Bus
	now func() time.Time
}

func NewRecorder(bus eventbus.Bus) *Recorder {
	return &Recorder{bus: bus, now: time.Now}
}

// TaskDone implements taskman.DoneCallback.
func (r *Recorder) TaskDone(t *taskman.Task, elapsed time.Duration) {
	ev := RunEvent{Task: t.Name(), Elapsed: elapsed, At: r.now()}
	if m := t.Manager(); m != nil {
		ev.Manager = m.Name()
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskRun, Time: ev.At, Data: ev})
}

// Sink appends published runs to a store.
type Sink struct {
	store storage.Store
	log   logx.Logger

	events <-chan eventbus.Event
	unsub  func()

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewSink subscribes to bus immediately so no event published after it
// returns is missed.
func NewSink(bus eventbus.Bus, store storage.Store, buffer int, log logx.Logger) *Sink {
	ch, unsub := bus.Subscribe(buffer)
	return &Sink{store: store, log: log, events: ch, unsub: unsub}
}

// Run consumes events until ctx is done, then drains what is already
// buffered. It is meant to be started under a supervisor.
func (s *Sink) Run(ctx context.Context) error {
	defer s.unsub()
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			s.write(ctx, ev)
		}
	}
}

func (s *Sink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.write(ctx, ev)
		default:
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, ev eventbus.Event) {
	run, ok := ev.Data.(RunEvent)
	if ev.Type != eventbus.TypeTaskRun || !ok {
		return
	}
	err := s.store.AppendRun(ctx, storage.RunRecord{
		At:        run.At,
		Manager:   run.Manager,
		Task:      run.Task,
		ElapsedUS: run.Elapsed.Microseconds(),
	})
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("run record dropped", logx.String("task", run.Task), logx.Err(err))
		return
	}
	s.written.Add(1)
}

// Written and Failed count store appends.
func (s *Sink) Written() uint64 { return s.written.Load() }
func (s *Sink) Failed() uint64  { return s.failed.Load() }
