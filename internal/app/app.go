package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"taskmgr/internal/async"
	"taskmgr/internal/config"
	"taskmgr/internal/eventbus"
	"taskmgr/internal/report"
	"taskmgr/internal/runtime/supervisor"
	"taskmgr/internal/statusserver"
	"taskmgr/internal/storage"
	"taskmgr/internal/telemetry"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
	"taskmgr/pkg/watchdog"
)

// builtinTasks counts the tasks the app registers next to configured ones:
// report, publish and control.
const builtinTasks = 3

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sup      *supervisor.Supervisor
	launcher *async.Launcher
	wd       watchdog.Watchdog
	asyncCfg taskman.AsyncConfig

	m        *taskman.Manager
	rec      *telemetry.Recorder
	sink     *telemetry.Sink
	reporter *report.Reporter
	pub      *report.Publisher
	control  *taskman.Task
	status   *statusserver.Server

	bindings map[string]*binding

	// reloads and applied belong to the loop goroutine once Start returns.
	reloads chan *config.Config
	applied *config.Config
}

// New loads cfgPath and prepares an app that hot-reloads it.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

// NewFromConfig prepares an app from an already parsed config. Such an app
// never reloads.
func NewFromConfig(cfg *config.Config) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return newApp(nil, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	asyncCfg, err := mapAsyncConfig(cfg)
	if err != nil {
		return nil, err
	}
	stCfg, stEnabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.NewService(mapLogConfig(cfg))
	a := &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log,
		logs:     logs,
		bus:      eventbus.New(),
		asyncCfg: asyncCfg,
		bindings: map[string]*binding{},
	}
	if cfgm != nil {
		cfgm.SetLogger(log.With(logx.String("comp", "config")))
	}

	if stEnabled {
		st, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	timeout, err := config.ParseDurationField("async.watchdog_timeout", cfg.Async.WatchdogTimeout)
	if err != nil {
		a.closeEarly()
		return nil, err
	}
	wd, err := watchdog.FromMode(cfg.Async.Watchdog, timeout, log.With(logx.String("comp", "watchdog")))
	if err != nil {
		a.closeEarly()
		return nil, err
	}
	a.wd = wd
	return a, nil
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

// Manager returns the scheduler. It is nil before Start and must only be
// used from the goroutine driving it.
func (a *App) Manager() *taskman.Manager { return a.m }

// Snapshots returns the latest published manager snapshot source.
func (a *App) Snapshots() *report.Publisher { return a.pub }

// Logger returns the app logger.
func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) recorder() taskman.DoneCallback {
	if a.rec == nil {
		return nil
	}
	return a.rec
}

// Start builds the manager and its tasks, starts the background services
// and, when async is enabled, the driver. Without async the caller drives
// the manager with Run.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	cfg := a.cfg
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	a.launcher = async.New(a.sup, a.log.With(logx.String("comp", "async")))

	if a.store != nil {
		buffer := 256
		if cfg.Storage != nil && cfg.Storage.Buffer > 0 {
			buffer = cfg.Storage.Buffer
		}
		a.sink = telemetry.NewSink(a.bus, a.store, buffer, a.log.With(logx.String("comp", "telemetry")))
		a.rec = telemetry.NewRecorder(a.bus)
		a.sup.Go("telemetry.sink", a.sink.Run)
	}

	m, err := buildManager(cfg,
		taskman.WithLogger(a.log.With(logx.String("comp", "taskman"))),
		taskman.WithLauncher(a.launcher),
		taskman.WithWatchdog(a.wd),
	)
	if err != nil {
		return err
	}
	a.m = m
	for _, tc := range cfg.Tasks {
		if !tc.Record || a.rec != nil {
			continue
		}
		a.log.Warn("task records runs but storage is disabled", logx.String("task", tc.Name))
	}
	for _, tc := range cfg.Tasks {
		b, err := bindTask(m, tc, a.recorder(), a.log)
		if err != nil {
			return err
		}
		a.bindings[tc.Name] = b
	}
	rc, err := mapReportConfig(cfg)
	if err != nil {
		return err
	}
	a.reporter = report.NewReporter(m, rc, a.bus)
	a.reporter.Task().SetEnabled(cfg.Report.Enabled)
	publishEvery, err := mapPublishEvery(cfg)
	if err != nil {
		return err
	}
	a.pub = report.NewPublisher(m, publishEvery)
	a.control = a.newControlTask(defaultControlEvery)
	if err := a.applyProfiling(cfg); err != nil {
		return err
	}
	a.applied = cfg

	a.status = statusserver.New(statusserver.Deps{Snapshots: a.pub, Runs: a.store, Routines: a.sup}, a.log)
	if err := a.status.Apply(a.sup.Context(), mapStatusConfig(cfg)); err != nil {
		return fmt.Errorf("status server: %w", err)
	}

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == eventbus.TypeTaskRun {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if a.cfgm != nil {
		a.reloads = a.cfgm.Subscribe(8)
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if cfg.Async.Enabled {
		if err := m.AsyncStart(a.asyncCfg); err != nil {
			return fmt.Errorf("start async driver: %w", err)
		}
	}

	if ok, err := watchdog.NotifyReady(); err != nil {
		a.log.Warn("systemd ready notification failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started",
		logx.String("manager", m.Name()),
		logx.Int("tasks", m.Len()),
		logx.Bool("async", cfg.Async.Enabled),
		logx.Bool("profiling", m.IsProfiled()),
	)
	return nil
}

// buildManager creates the manager for cfg without any tasks.
func buildManager(cfg *config.Config, opts ...taskman.ManagerOption) (*taskman.Manager, error) {
	if cfg.Manager.Name == "" {
		return nil, errors.New("manager.name is required")
	}
	base := []taskman.ManagerOption{taskman.WithCapacity(len(cfg.Tasks) + builtinTasks)}
	if cfg.Manager.MaxTasks > 0 {
		base = append(base, taskman.WithMaxTasks(cfg.Manager.MaxTasks+builtinTasks))
	}
	return taskman.NewManager(cfg.Manager.Name, append(base, opts...)...), nil
}

// Run drives the manager on the calling goroutine until ctx is done or the
// supervisor fails. With async enabled it only waits.
func (a *App) Run(ctx context.Context) error {
	if a.sup == nil {
		return errors.New("app not started")
	}
	if a.m.IsAsync() {
		select {
		case <-ctx.Done():
		case <-a.sup.Context().Done():
		}
		return a.sup.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.sup.Context(), cancel)
	defer stop()

	spec := taskman.SpawnSpec{
		Name:      a.m.Name(),
		Pass:      a.m.Loop,
		IdleDelay: a.asyncCfg.IdleDelay,
		StackSize: a.asyncCfg.StackSize,
		Priority:  a.asyncCfg.Priority,
		Core:      a.asyncCfg.Core,
	}
	if a.asyncCfg.Watchdog {
		spec.Watchdog = a.wd
	}
	if err := async.Drive(runCtx, spec, a.log); err != nil && runCtx.Err() == nil {
		return err
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeEarly()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := watchdog.NotifyStopping(); err != nil {
		a.log.Debug("systemd stopping notification failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	step("driver", 3*time.Second, func(context.Context) error {
		if a.m == nil || !a.m.IsAsync() {
			return nil
		}
		return a.m.AsyncStop()
	})
	step("status", 2*time.Second, func(c context.Context) error {
		if a.status != nil {
			a.status.Stop(c)
		}
		return nil
	})
	step("config", 0, func(context.Context) error {
		if a.cfgm != nil && a.reloads != nil {
			a.cfgm.Unsubscribe(a.reloads)
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	if a.m != nil && a.m.IsProfiled() && !a.m.IsAsync() {
		a.m.Log(a.reporterWidth())
	}
	a.log.Info("stopped", logx.String("reason", string(reason)))
	_ = a.logs.Close()
	return nil
}

func (a *App) reporterWidth() int {
	if a.cfg.Report.NameWidth > 0 {
		return a.cfg.Report.NameWidth
	}
	return taskman.DefaultNameWidth
}

// Export builds cfg's manager without running it and writes its document
// in format ("json" or "yaml").
func Export(cfg *config.Config, w io.Writer, format string) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	m, err := buildManager(cfg)
	if err != nil {
		return err
	}
	for _, tc := range cfg.Tasks {
		if _, err := bindTask(m, tc, nil, logx.Nop()); err != nil {
			return err
		}
	}
	p, err := mapProfiling(cfg)
	if err != nil {
		return err
	}
	if p.enabled {
		m.EnableProfilingWith(p.managerBuckets, p.taskBuckets, p.unit)
	}
	return report.Encode(w, m.Document(), format)
}
