package taskman

import "time"

// SpawnSpec is everything a Launcher needs to drive a manager.
type SpawnSpec struct {
	Name string
	// Pass runs one scheduling pass and returns the number of tasks run.
	Pass func() int
	// IdleDelay is slept when a pass ran nothing; zero means yield.
	IdleDelay time.Duration
	// Watchdog, when non-nil, is registered for the driver, reset after every
	// pass and unregistered on stop.
	Watchdog Watchdog

	StackSize uint32
	Priority  int
	Core      int
}

// Handle identifies a running driver.
type Handle interface {
	// Done is closed once the driver has exited.
	Done() <-chan struct{}
}

// Launcher creates long-lived background drivers that call a pass function
// forever. Implementations live outside this package so the scheduler does
// not depend on a particular threading primitive.
type Launcher interface {
	Spawn(spec SpawnSpec) (Handle, error)
	// Stop terminates the driver and blocks until it has exited.
	Stop(h Handle)
}

// Watchdog is a liveness monitor armed against the goroutine driving Loop.
type Watchdog interface {
	Register(name string) error
	Reset() error
	Unregister() error
}
