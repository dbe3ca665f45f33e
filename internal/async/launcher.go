// Package async drives task managers from supervised background goroutines.
package async

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"taskmgr/internal/runtime/supervisor"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

var ErrUnknownHandle = errors.New("async: unknown driver handle")

// Launcher implements taskman.Launcher on top of a Supervisor. Each driver
// calls its pass function forever, sleeping IdleDelay after idle passes, and
// is restarted with backoff if a pass panics.
type Launcher struct {
	sup *supervisor.Supervisor
	log logx.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu      sync.Mutex
	drivers map[*driver]struct{}
}

type Option func(*Launcher)

// WithRestartBackoff sets the delay window between restarts after a panic.
func WithRestartBackoff(min, max time.Duration) Option {
	return func(l *Launcher) {
		l.minBackoff = min
		l.maxBackoff = max
	}
}

func New(sup *supervisor.Supervisor, log logx.Logger, opts ...Option) *Launcher {
	l := &Launcher{
		sup:        sup,
		log:        log,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		drivers:    map[*driver]struct{}{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

type driver struct {
	spec   taskman.SpawnSpec
	cancel context.CancelFunc
	done   chan struct{}
}

func (d *driver) Done() <-chan struct{} { return d.done }

// Spawn starts a driver for spec.
func (l *Launcher) Spawn(spec taskman.SpawnSpec) (taskman.Handle, error) {
	if spec.Pass == nil {
		return nil, fmt.Errorf("async: driver %q has no pass function", spec.Name)
	}
	if err := l.sup.Context().Err(); err != nil {
		return nil, fmt.Errorf("async: supervisor stopped: %w", err)
	}
	ctx, cancel := context.WithCancel(l.sup.Context())
	d := &driver{spec: spec, cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	l.drivers[d] = struct{}{}
	l.mu.Unlock()

	name := "taskman." + spec.Name
	l.log.Debug("driver spawned",
		logx.String("driver", name),
		logx.Duration("idle_delay", spec.IdleDelay),
		logx.Int("core", spec.Core),
		logx.Int("priority", spec.Priority),
		logx.Int64("stack_size", int64(spec.StackSize)),
	)
	l.sup.GoRestart(name, func(context.Context) error { return l.drive(ctx, d) },
		supervisor.WithRestartBackoff(l.minBackoff, l.maxBackoff),
		supervisor.WithContext(ctx),
		supervisor.WithOnExit(func() {
			l.mu.Lock()
			delete(l.drivers, d)
			l.mu.Unlock()
			close(d.done)
		}),
	)
	return d, nil
}

// Stop cancels the driver and waits until its current pass has returned.
// It must not be called from inside that driver's pass.
func (l *Launcher) Stop(h taskman.Handle) {
	d, ok := h.(*driver)
	if !ok {
		return
	}
	d.cancel()
	<-d.done
}

// Len returns the number of live drivers.
func (l *Launcher) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.drivers)
}

func (l *Launcher) drive(ctx context.Context, d *driver) error {
	return Drive(ctx, d.spec, l.log)
}

// Drive runs spec on the calling goroutine until ctx is done and returns
// ctx's error. A panicking pass propagates to the caller.
func Drive(ctx context.Context, spec taskman.SpawnSpec, log logx.Logger) error {
	// Go has no portable affinity or priority control; a pinned request gets
	// a dedicated OS thread instead.
	if spec.Core >= 0 || spec.Priority >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	if wd := spec.Watchdog; wd != nil {
		if err := wd.Register(spec.Name); err != nil {
			return fmt.Errorf("watchdog register: %w", err)
		}
		defer func() {
			if uerr := wd.Unregister(); uerr != nil {
				log.Warn("watchdog unregister failed", logx.String("driver", spec.Name), logx.Err(uerr))
			}
		}()
	}

	var idle *time.Timer
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := spec.Pass()
		if wd := spec.Watchdog; wd != nil {
			if err := wd.Reset(); err != nil {
				log.Warn("watchdog reset failed", logx.String("driver", spec.Name), logx.Err(err))
			}
		}
		if n > 0 {
			continue
		}
		if spec.IdleDelay <= 0 {
			runtime.Gosched()
			continue
		}
		if idle == nil {
			idle = time.NewTimer(spec.IdleDelay)
		} else {
			idle.Reset(spec.IdleDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
		}
	}
}
