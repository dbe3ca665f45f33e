package taskman

import "taskmgr/pkg/histogram"

// Document is a generic key/value tree (maps, slices, scalars) ready for any
// structured encoder (encoding/json, yaml, ...).
type Document = map[string]any

// Document exports the task: name, type, paused, effective enabled state,
// interval in microseconds and, when profiled, its statistics.
func (t *Task) Document() Document {
	d := Document{
		"name":     t.name,
		"type":     t.typ.String(),
		"paused":   t.paused,
		"enabled":  t.IsEnabled(),
		"interval": t.Interval().Microseconds(),
	}
	if t.stats != nil {
		d["stats"] = statsDocument(t.stats, t.unit)
	}
	return d
}

// Document exports the manager: name, optional pass statistics and the
// documents of every attached task in scheduling order.
func (m *Manager) Document() Document {
	tasks := make([]any, 0, m.Len())
	for _, t := range m.tasks {
		if t != nil {
			tasks = append(tasks, t.Document())
		}
	}
	d := Document{
		"name":  m.name,
		"tasks": tasks,
	}
	if m.stats != nil {
		d["stats"] = statsDocument(m.stats, m.unit)
	}
	return d
}

func statsDocument(h *histogram.Histogram, unit Unit) Document {
	n := int(h.Buckets())
	bins := make([]any, n)
	for i := 0; i < n; i++ {
		bins[i] = h.Bucket(i)
	}
	return Document{
		"count": h.Count(),
		"unit":  unit.String(),
		"bins":  bins,
	}
}
