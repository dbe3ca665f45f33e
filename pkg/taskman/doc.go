// Package taskman is a cooperative, single-threaded task scheduler.
//
// A Manager owns an ordered list of Tasks. Each call to Manager.Loop is one
// scheduling pass: tasks are visited in registration order, due tasks run
// synchronously in place, and control is yielded back to the Go scheduler
// after every run. Nothing preempts a running task; a slow task delays the
// rest of the pass.
//
// A Task is due when it is not paused, its enabled predicate (if any) holds,
// and either it never ran (or an early run was requested) or its interval has
// elapsed since its last completion. A zero interval means "every pass".
//
// Neither Task nor Manager is safe for concurrent use. Loop must be driven
// from one goroutine at a time (directly, or through AsyncStart and a
// Launcher), and every mutation of tasks or the manager must happen on that
// same goroutine or be synchronized by the caller.
//
// Optional profiling attaches a power-of-two histogram (package histogram)
// to tasks and to the manager itself. Elapsed times are measured in
// microseconds and scaled by a Unit before bucketing.
package taskman
