package taskman

import (
	"fmt"
	"time"
)

// Func is the unit of work run by a Task. data is the task's opaque user value.
type Func func(data any)

// Type is the execution cardinality of a task.
type Type int

const (
	// Repeating tasks run every time they become due.
	Repeating Type = iota
	// OneShot tasks start paused, run once after Resume, then pause themselves.
	OneShot
)

func (t Type) String() string {
	switch t {
	case Repeating:
		return "REPEATING"
	case OneShot:
		return "ONE_SHOT"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Unit scales elapsed microseconds before they are bucketed.
type Unit uint32

const (
	Microseconds Unit = 1
	Milliseconds Unit = 1000
	Seconds      Unit = 1000000
)

// Divisor returns the divisor applied to microsecond samples.
func (u Unit) Divisor() uint32 {
	if u == 0 {
		return 1
	}
	return uint32(u)
}

func (u Unit) String() string {
	switch u {
	case Microseconds:
		return "us"
	case Milliseconds:
		return "ms"
	case Seconds:
		return "s"
	default:
		return fmt.Sprintf("%dus", uint32(u))
	}
}

// ParseUnit accepts "us", "ms" and "s".
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "us", "µs":
		return Microseconds, nil
	case "ms", "":
		return Milliseconds, nil
	case "s":
		return Seconds, nil
	default:
		return 0, fmt.Errorf("unknown time unit %q (use us, ms or s)", s)
	}
}

// DefaultBuckets is the bucket count used by callers that do not care.
const DefaultBuckets = 10

// Predicate gates whether a task is enabled.
type Predicate interface {
	Test() bool
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func() bool

func (f PredicateFunc) Test() bool { return f() }

type constPredicate bool

func (c constPredicate) Test() bool { return bool(c) }

var (
	// AlwaysTrue and AlwaysFalse are shared stateless predicates.
	AlwaysTrue  Predicate = constPredicate(true)
	AlwaysFalse Predicate = constPredicate(false)
)

// IntervalSupplier provides a task's interval each time it is evaluated.
// Zero or negative means "run every pass".
type IntervalSupplier interface {
	Interval() time.Duration
}

// IntervalFunc adapts a plain function to IntervalSupplier.
type IntervalFunc func() time.Duration

func (f IntervalFunc) Interval() time.Duration { return f() }

// FixedInterval is a constant interval.
type FixedInterval time.Duration

func (f FixedInterval) Interval() time.Duration { return time.Duration(f) }

// CompletionObserver is implemented by interval suppliers that derive the
// next interval from the time a run completed (cron schedules, for example).
// The task calls TaskCompleted after every run, before its done callback.
type CompletionObserver interface {
	TaskCompleted()
}

// DoneCallback is invoked after every run with the elapsed run time.
type DoneCallback interface {
	TaskDone(t *Task, elapsed time.Duration)
}

// DoneFunc adapts a plain function to DoneCallback.
type DoneFunc func(t *Task, elapsed time.Duration)

func (f DoneFunc) TaskDone(t *Task, elapsed time.Duration) { f(t, elapsed) }

// ChainDone returns a callback invoking every non-nil callback in order.
func ChainDone(cbs ...DoneCallback) DoneCallback {
	out := make(doneChain, 0, len(cbs))
	for _, cb := range cbs {
		if cb != nil {
			out = append(out, cb)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

type doneChain []DoneCallback

func (c doneChain) TaskDone(t *Task, elapsed time.Duration) {
	for _, cb := range c {
		cb.TaskDone(t, elapsed)
	}
}
