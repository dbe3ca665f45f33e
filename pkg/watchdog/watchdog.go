// Package watchdog provides liveness monitors for the goroutine that drives a
// task manager. A monitor is registered once, reset after every scheduling
// pass and unregistered when the driver stops.
package watchdog

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskmgr/pkg/logx"
)

var (
	ErrNotRegistered     = errors.New("watchdog: not registered")
	ErrAlreadyRegistered = errors.New("watchdog: already registered")
	ErrSystemdDisabled   = errors.New("watchdog: systemd watchdog is not enabled for this process")
)

// Nop accepts every call and monitors nothing.
type Nop struct{}

func (Nop) Register(string) error { return nil }
func (Nop) Reset() error          { return nil }
func (Nop) Unregister() error     { return nil }

// Systemd forwards resets to the service manager through sd_notify.
// Registration fails unless the unit has WatchdogSec set.
type Systemd struct {
	mu       sync.Mutex
	name     string
	interval time.Duration
	log      logx.Logger
}

func NewSystemd(log logx.Logger) *Systemd { return &Systemd{log: log} }

func (s *Systemd) Register(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.name != "" {
		return ErrAlreadyRegistered
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	if d == 0 {
		return ErrSystemdDisabled
	}
	s.name = name
	s.interval = d
	s.log.Info("systemd watchdog armed", logx.String("driver", name), logx.Duration("interval", d))
	return nil
}

func (s *Systemd) Reset() error {
	s.mu.Lock()
	registered := s.name != ""
	s.mu.Unlock()
	if !registered {
		return ErrNotRegistered
	}
	_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	return err
}

func (s *Systemd) Unregister() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.name == "" {
		return ErrNotRegistered
	}
	s.name = ""
	return nil
}

// Interval returns the WatchdogSec of the unit once registered.
func (s *Systemd) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// NotifyReady tells the service manager that startup finished. It reports
// false when the process is not running under systemd.
func NotifyReady() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// NotifyStopping tells the service manager that shutdown began.
func NotifyStopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Timer is an in-process watchdog: if Reset is not called within timeout,
// onExpire runs once with the driver name and the time since the last reset.
type Timer struct {
	timeout  time.Duration
	onExpire func(name string, stalled time.Duration)

	mu    sync.Mutex
	name  string
	last  time.Time
	timer *time.Timer
	fired bool
}

// NewTimer returns a software watchdog. A nil onExpire is allowed; expiries
// are then only visible through Expired.
func NewTimer(timeout time.Duration, onExpire func(name string, stalled time.Duration)) *Timer {
	return &Timer{timeout: timeout, onExpire: onExpire}
}

func (w *Timer) Register(name string) error {
	if w.timeout <= 0 {
		return fmt.Errorf("watchdog: invalid timeout %s", w.timeout)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		return ErrAlreadyRegistered
	}
	w.name = name
	w.last = time.Now()
	w.fired = false
	w.timer = time.AfterFunc(w.timeout, w.expire)
	return nil
}

func (w *Timer) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		return ErrNotRegistered
	}
	w.last = time.Now()
	w.fired = false
	w.timer.Reset(w.timeout)
	return nil
}

func (w *Timer) Unregister() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		return ErrNotRegistered
	}
	w.timer.Stop()
	w.timer = nil
	return nil
}

// Expired reports whether the watchdog fired since the last Reset.
func (w *Timer) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Timer) expire() {
	w.mu.Lock()
	if w.timer == nil || w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	name, stalled := w.name, time.Since(w.last)
	w.mu.Unlock()
	if w.onExpire != nil {
		w.onExpire(name, stalled)
	}
}

// Watchdog is the set of methods shared by every monitor in this package.
type Watchdog interface {
	Register(name string) error
	Reset() error
	Unregister() error
}

// FromMode builds a monitor by name: "none" (or empty), "systemd" or "timer".
func FromMode(mode string, timeout time.Duration, log logx.Logger) (Watchdog, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "none", "off":
		return Nop{}, nil
	case "systemd":
		return NewSystemd(log), nil
	case "timer":
		return NewTimer(timeout, func(name string, stalled time.Duration) {
			log.Error("task manager stalled", logx.String("driver", name), logx.Duration("stalled", stalled))
		}), nil
	default:
		return nil, fmt.Errorf("watchdog: unknown mode %q", mode)
	}
}
