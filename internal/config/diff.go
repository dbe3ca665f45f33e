package config

import (
	"reflect"
	"sort"

	"taskmgr/pkg/logx"
)

// ChangeSummary describes what a reload changed.
type ChangeSummary struct {
	// Sections lists changed top-level sections in a stable order.
	Sections []string
	// Tasks lists tasks whose settings changed, by name.
	Tasks []string
	// Added and Removed list task names that appear in only one version.
	// A reload never adds or removes tasks; these are reported and ignored.
	Added   []string
	Removed []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
}

// Empty reports whether nothing changed.
func (s ChangeSummary) Empty() bool {
	return len(s.Sections) == 0 && len(s.Tasks) == 0 && len(s.Added) == 0 && len(s.Removed) == 0
}

// Fields returns structured log fields for the summary.
func (s ChangeSummary) Fields() []logx.Field {
	return []logx.Field{
		logx.Any("sections", s.Sections),
		logx.Any("tasks", s.Tasks),
		logx.Any("added", s.Added),
		logx.Any("removed", s.Removed),
		logx.Any("needs_restart", s.Restart),
	}
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) ChangeSummary {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var s ChangeSummary

	section := func(name string, a, b any, needsRestart bool) {
		if reflect.DeepEqual(a, b) {
			return
		}
		s.Sections = append(s.Sections, name)
		if needsRestart {
			s.Restart = append(s.Restart, name)
		}
	}
	section("logging", oldCfg.Logging, newCfg.Logging, false)
	section("manager", oldCfg.Manager, newCfg.Manager, true)
	section("async", oldCfg.Async, newCfg.Async, true)
	section("profiling", oldCfg.Profiling, newCfg.Profiling, false)
	section("report", oldCfg.Report, newCfg.Report, false)
	section("status", oldCfg.Status, newCfg.Status, false)
	section("storage", oldCfg.Storage, newCfg.Storage, true)

	oldTasks := make(map[string]TaskConfig, len(oldCfg.Tasks))
	for _, t := range oldCfg.Tasks {
		oldTasks[t.Name] = t
	}
	newNames := make(map[string]bool, len(newCfg.Tasks))
	for _, t := range newCfg.Tasks {
		newNames[t.Name] = true
		prev, ok := oldTasks[t.Name]
		switch {
		case !ok:
			s.Added = append(s.Added, t.Name)
		case !reflect.DeepEqual(prev, t):
			s.Tasks = append(s.Tasks, t.Name)
		}
	}
	for name := range oldTasks {
		if !newNames[name] {
			s.Removed = append(s.Removed, name)
		}
	}
	sort.Strings(s.Tasks)
	sort.Strings(s.Added)
	sort.Strings(s.Removed)
	if len(s.Tasks)+len(s.Added)+len(s.Removed) > 0 {
		s.Sections = append(s.Sections, "tasks")
	}
	return s
}
