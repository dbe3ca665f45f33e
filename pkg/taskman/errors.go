package taskman

import "errors"

var (
	ErrAsyncRunning    = errors.New("taskman: async driver already running")
	ErrAsyncNotRunning = errors.New("taskman: async driver not running")
	ErrNoLauncher      = errors.New("taskman: no launcher configured")
	ErrNoWatchdog      = errors.New("taskman: watchdog requested but none configured")
)
