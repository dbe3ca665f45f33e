package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"taskmgr/internal/schedule"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON field names in errors.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// reservedTaskNames are registered by the runtime itself.
var reservedTaskNames = map[string]bool{"report": true, "publish": true, "control": true}

// Validate checks struct tags and the cross-field rules tags cannot express:
// duration and schedule syntax, unique task names and storage paths.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("async.idle_delay", cfg.Async.IdleDelay)
	check("async.watchdog_timeout", cfg.Async.WatchdogTimeout)
	check("report.every", cfg.Report.Every)
	check("status.publish_every", cfg.Status.PublishEvery)
	if cfg.Async.Watchdog == "timer" && strings.TrimSpace(cfg.Async.WatchdogTimeout) == "" {
		errs = append(errs, errors.New("async.watchdog_timeout: required for the timer watchdog"))
	}

	if s := cfg.Storage; s != nil {
		check("storage.busy_timeout", s.BusyTimeout)
		driver := strings.ToLower(strings.TrimSpace(s.Driver))
		if driver != "" && driver != "none" && strings.TrimSpace(s.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", s.Driver))
		}
	}

	seen := map[string]bool{}
	for i, t := range cfg.Tasks {
		prefix := fmt.Sprintf("tasks[%d]", i)
		if t.Name != "" {
			if seen[t.Name] {
				errs = append(errs, fmt.Errorf("%s.name: duplicate task %q", prefix, t.Name))
			}
			seen[t.Name] = true
			if reservedTaskNames[t.Name] {
				errs = append(errs, fmt.Errorf("%s.name: %q is reserved for a built-in task", prefix, t.Name))
			}
		}
		if strings.TrimSpace(t.Schedule) != "" {
			if _, err := schedule.ParseSupplier(t.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("%s.schedule: %w", prefix, err))
			}
		}
		check(prefix+".start_delay", t.StartDelay)
		check(prefix+".duration", t.Duration)
	}
	if cfg.Manager.MaxTasks > 0 && len(cfg.Tasks) > cfg.Manager.MaxTasks {
		errs = append(errs, fmt.Errorf("tasks: %d tasks exceed manager.max_tasks=%d", len(cfg.Tasks), cfg.Manager.MaxTasks))
	}
	return errors.Join(errs...)
}
