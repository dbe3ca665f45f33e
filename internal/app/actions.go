package app

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"taskmgr/internal/config"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

// actionState is the data value of a configured task. The loop goroutine
// owns every field except runs, which the status side may read.
type actionState struct {
	name     string
	message  string
	duration time.Duration
	log      logx.Logger
	runs     atomic.Uint64
}

type action func(s *actionState)

var actions = map[string]action{
	"noop":      func(*actionState) {},
	"heartbeat": heartbeat,
	"sleep":     func(s *actionState) { time.Sleep(s.duration) },
	"busy":      busy,
	"gc":        func(*actionState) { runtime.GC() },
	"memstats":  memstats,
}

func lookupAction(name string) (action, error) {
	fn, ok := actions[name]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", name)
	}
	return fn, nil
}

// work adapts an action to taskman.Func.
func work(fn action) taskman.Func {
	return func(data any) {
		s := data.(*actionState)
		s.runs.Add(1)
		fn(s)
	}
}

func newActionState(tc config.TaskConfig, log logx.Logger) (*actionState, error) {
	s := &actionState{name: tc.Name, log: log}
	if err := s.apply(tc); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *actionState) apply(tc config.TaskConfig) error {
	d, err := config.ParseDurationOrDefault("tasks."+tc.Name+".duration", tc.Duration, 0)
	if err != nil {
		return err
	}
	s.duration = d
	s.message = tc.Message
	return nil
}

func heartbeat(s *actionState) {
	msg := s.message
	if msg == "" {
		msg = "heartbeat"
	}
	s.log.Info(msg, logx.String("task", s.name), logx.Uint64("runs", s.runs.Load()))
}

// busy spins on the CPU for the configured duration.
func busy(s *actionState) {
	deadline := time.Now().Add(s.duration)
	var n uint64
	for time.Now().Before(deadline) {
		n++
	}
	s.log.Trace("busy done", logx.String("task", s.name), logx.Uint64("spins", n))
}

func memstats(s *actionState) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.log.Info("memstats",
		logx.String("task", s.name),
		logx.Uint64("heap_alloc", ms.HeapAlloc),
		logx.Uint64("heap_objects", ms.HeapObjects),
		logx.Uint64("sys", ms.Sys),
		logx.Int("goroutines", runtime.NumGoroutine()),
		logx.Int64("gc_cycles", int64(ms.NumGC)),
	)
}
