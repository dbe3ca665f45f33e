package taskman

// AsyncStart drives this task alone from a background driver that calls
// TryRun forever, sleeping cfg.IdleDelay (or yielding) whenever the task was
// not due. The launcher and watchdog come from WithTaskLauncher and
// WithTaskWatchdog, or from the owning manager.
//
// A task driven this way must not also be run by a manager pass; detach it
// or keep it paused in the manager.
func (t *Task) AsyncStart(cfg AsyncConfig) error {
	if t.async != nil {
		return ErrAsyncRunning
	}
	l := t.launcher
	if l == nil && t.manager != nil {
		l = t.manager.launcher
	}
	if l == nil {
		return ErrNoLauncher
	}
	spec := SpawnSpec{
		Name: t.name,
		Pass: func() int {
			if t.TryRun() {
				return 1
			}
			return 0
		},
		IdleDelay: cfg.IdleDelay,
		StackSize: cfg.StackSize,
		Priority:  cfg.Priority,
		Core:      cfg.Core,
	}
	if cfg.Watchdog {
		wd := t.watchdog
		if wd == nil && t.manager != nil {
			wd = t.manager.watchdog
		}
		if wd == nil {
			return ErrNoWatchdog
		}
		spec.Watchdog = wd
	}
	h, err := l.Spawn(spec)
	if err != nil {
		return err
	}
	t.async = h
	t.asyncCfg = cfg
	t.asyncLauncher = l
	return nil
}

// AsyncStop stops the task's driver and waits for a run in progress to
// finish. It returns ErrAsyncNotRunning when no driver is active.
func (t *Task) AsyncStop() error {
	h := t.async
	if h == nil {
		return ErrAsyncNotRunning
	}
	t.asyncLauncher.Stop(h)
	t.async = nil
	t.asyncLauncher = nil
	return nil
}

// IsAsync reports whether the task has its own driver.
func (t *Task) IsAsync() bool { return t.async != nil }

// AsyncConfig returns the configuration of the active driver.
func (t *Task) AsyncConfig() (AsyncConfig, bool) { return t.asyncCfg, t.async != nil }
