package app

import (
	"fmt"
	"strings"

	"taskmgr/internal/config"
	"taskmgr/internal/schedule"
	"taskmgr/pkg/logx"
	"taskmgr/pkg/taskman"
)

// binding ties a configured task to the scheduler task built from it.
type binding struct {
	cfg   config.TaskConfig
	task  *taskman.Task
	state *actionState
}

func taskType(tc config.TaskConfig) taskman.Type {
	if strings.EqualFold(tc.Type, "one_shot") {
		return taskman.OneShot
	}
	return taskman.Repeating
}

// bindTask creates tc's task inside m. rec is installed as the done callback
// of tasks with record set.
func bindTask(m *taskman.Manager, tc config.TaskConfig, rec taskman.DoneCallback, log logx.Logger) (*binding, error) {
	fn, err := lookupAction(tc.Action)
	if err != nil {
		return nil, fmt.Errorf("tasks.%s: %w", tc.Name, err)
	}
	state, err := newActionState(tc, log.With(logx.String("action", tc.Action)))
	if err != nil {
		return nil, err
	}
	sup, err := intervalFor(tc)
	if err != nil {
		return nil, err
	}
	delay, err := config.ParseDurationField("tasks."+tc.Name+".start_delay", tc.StartDelay)
	if err != nil {
		return nil, err
	}

	t := m.NewTask(tc.Name, work(fn), taskman.WithData(state), taskman.OfType(taskType(tc)))
	b := &binding{cfg: tc, task: t, state: state}
	if tc.Paused {
		t.Pause()
	}
	t.SetEnabled(tc.IsEnabled())
	t.SetDebug(tc.Debug)
	if tc.Record {
		t.SetCallback(rec)
	}
	if delay > 0 {
		t.ResumeIn(delay)
		sup = schedule.Delayed(delay, sup)
	}
	t.SetIntervalSupplier(sup)
	return b, nil
}

func intervalFor(tc config.TaskConfig) (taskman.IntervalSupplier, error) {
	if strings.TrimSpace(tc.Schedule) == "" {
		return nil, nil
	}
	sup, err := schedule.ParseSupplier(tc.Schedule)
	if err != nil {
		return nil, fmt.Errorf("tasks.%s.schedule: %w", tc.Name, err)
	}
	return sup, nil
}

// reconfigure applies a reloaded task config. Only changed settings are
// touched so an unchanged schedule keeps its timing. Start delays only apply
// at startup.
func (b *binding) reconfigure(tc config.TaskConfig, rec taskman.DoneCallback) error {
	prev := b.cfg
	if tc.Action != prev.Action {
		return fmt.Errorf("tasks.%s: action change %s -> %s requires a restart", tc.Name, prev.Action, tc.Action)
	}
	if err := b.state.apply(tc); err != nil {
		return err
	}
	t := b.task
	if tc.Schedule != prev.Schedule {
		sup, err := intervalFor(tc)
		if err != nil {
			return err
		}
		t.SetIntervalSupplier(sup)
	}
	if !strings.EqualFold(tc.Type, prev.Type) {
		t.SetType(taskType(tc))
	}
	if tc.Paused != prev.Paused {
		if tc.Paused {
			t.Pause()
		} else {
			t.Resume()
		}
	}
	t.SetEnabled(tc.IsEnabled())
	t.SetDebug(tc.Debug)
	if tc.Record {
		t.SetCallback(rec)
	} else {
		t.SetCallback(nil)
	}
	b.cfg = tc
	return nil
}
