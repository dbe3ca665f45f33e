package app

import (
	"context"
	"time"

	"taskmgr/internal/config"
	"taskmgr/internal/eventbus"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

// newControlTask registers the task that applies reloaded configs. It runs
// inside the manager so every change to tasks happens on the loop goroutine.
func (a *App) newControlTask(every time.Duration) *taskman.Task {
	return a.m.NewTask("control", func(any) { a.drainReloads() }, taskman.Every(every))
}

// drainReloads applies the newest pending config, if any.
func (a *App) drainReloads() {
	var next *config.Config
drain:
	for {
		select {
		case cfg, ok := <-a.reloads:
			if !ok {
				a.reloads = nil
				break drain
			}
			if cfg != nil {
				next = cfg
			}
		default:
			break drain
		}
	}
	if next != nil {
		a.applyConfig(next)
	}
}

func (a *App) applyConfig(next *config.Config) {
	sum := config.SummarizeConfigChange(a.applied, next)
	if sum.Empty() {
		a.log.Info("config reloaded (no changes)")
		a.applied = next
		return
	}
	a.log.Debug("config change summary", sum.Fields()...)
	if len(sum.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Any("sections", sum.Restart))
	}

	a.logs.Apply(mapLogConfig(next))

	for _, tc := range next.Tasks {
		b, ok := a.bindings[tc.Name]
		if !ok {
			continue
		}
		if err := b.reconfigure(tc, a.recorder()); err != nil {
			a.log.Warn("task config rejected; keeping previous", logx.String("task", tc.Name), logx.Err(err))
		}
	}
	for _, name := range sum.Added {
		a.log.Warn("new task ignored until restart", logx.String("task", name))
	}
	for _, name := range sum.Removed {
		if b, ok := a.bindings[name]; ok {
			b.task.SetEnabled(false)
			a.log.Warn("removed task disabled until restart", logx.String("task", name))
		}
	}

	if err := a.applyProfiling(next); err != nil {
		a.log.Warn("invalid profiling config; keeping previous", logx.Err(err))
	}
	if rc, err := mapReportConfig(next); err != nil {
		a.log.Warn("invalid report config; keeping previous", logx.Err(err))
	} else {
		a.reporter.Task().SetInterval(rc.Every)
		a.reporter.Task().SetEnabled(next.Report.Enabled)
	}
	if every, err := mapPublishEvery(next); err == nil {
		a.pub.Task().SetInterval(every)
	}

	// The listener may block briefly; keep it off the loop.
	sc := mapStatusConfig(next)
	a.sup.Go0("status.apply", func(c context.Context) {
		if err := a.status.Apply(c, sc); err != nil {
			a.log.Warn("status server apply failed", logx.Err(err))
		}
	})

	a.applied = next
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sum.Sections})
	a.log.Info("config reloaded", sum.Fields()...)
}

// applyProfiling enables, disables or rebuckets profiling when its settings
// differ from the applied ones.
func (a *App) applyProfiling(cfg *config.Config) error {
	p, err := mapProfiling(cfg)
	if err != nil {
		return err
	}
	if a.applied != nil && a.applied.Profiling == cfg.Profiling {
		return nil
	}
	if !p.enabled {
		if a.m.IsProfiled() {
			a.m.DisableProfiling()
		}
		return nil
	}
	if a.m.IsProfiled() {
		// histograms keep their bucket layout; start over
		a.m.DisableProfiling()
	}
	a.m.EnableProfilingWith(p.managerBuckets, p.taskBuckets, p.unit)
	return nil
}
