package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskmgr/pkg/taskman"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronInterval supplies the time from the task's last completion to the next
// cron tick after it. It implements taskman.CompletionObserver so the task
// tells it when a run finished.
//
// Cron is evaluated against wall time while the task compares the interval
// against its own clock, so a run lands on the tick give or take one pass.
type CronInterval struct {
	expr  string
	sched cron.Schedule
	now   func() time.Time

	mu   sync.Mutex
	next time.Duration
}

// CronOption configures a CronInterval.
type CronOption func(*CronInterval)

// WithNow replaces time.Now.
func WithNow(fn func() time.Time) CronOption { return func(c *CronInterval) { c.now = fn } }

// NewCronInterval parses expr with the five-field cron syntax and descriptors
// such as "@hourly" or "@every 5s".
func NewCronInterval(expr string, opts ...CronOption) (*CronInterval, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	c := &CronInterval{expr: expr, sched: sched, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.TaskCompleted()
	return c, nil
}

// Expr returns the cron expression.
func (c *CronInterval) Expr() string { return c.expr }

// Interval implements taskman.IntervalSupplier.
func (c *CronInterval) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// TaskCompleted implements taskman.CompletionObserver.
func (c *CronInterval) TaskCompleted() {
	now := c.now()
	d := c.sched.Next(now).Sub(now)
	if d <= 0 {
		d = time.Nanosecond
	}
	c.mu.Lock()
	c.next = d
	c.mu.Unlock()
}

// Supplier returns the interval supplier for a parsed spec.
func Supplier(sp Spec, opts ...CronOption) (taskman.IntervalSupplier, error) {
	switch sp.Kind {
	case KindCron:
		return NewCronInterval(sp.Cron, opts...)
	case KindInterval:
		return taskman.FixedInterval(sp.Every), nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %v", sp.Kind)
	}
}

// ParseSupplier is Parse followed by Supplier.
func ParseSupplier(raw string, opts ...CronOption) (taskman.IntervalSupplier, error) {
	sp, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return Supplier(sp, opts...)
}

// DelayedInterval reports first until the task completes once, then defers
// to next. A nil next means "run every pass" after the first completion.
type DelayedInterval struct {
	first time.Duration
	next  taskman.IntervalSupplier

	mu   sync.Mutex
	done bool
}

// Delayed wraps next so the first run waits first.
func Delayed(first time.Duration, next taskman.IntervalSupplier) *DelayedInterval {
	return &DelayedInterval{first: first, next: next}
}

// Interval implements taskman.IntervalSupplier.
func (d *DelayedInterval) Interval() time.Duration {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if !done {
		return d.first
	}
	if d.next == nil {
		return 0
	}
	return d.next.Interval()
}

// TaskCompleted implements taskman.CompletionObserver and forwards to next
// when it observes completions too.
func (d *DelayedInterval) TaskCompleted() {
	d.mu.Lock()
	d.done = true
	d.mu.Unlock()
	if o, ok := d.next.(taskman.CompletionObserver); ok {
		o.TaskCompleted()
	}
}
