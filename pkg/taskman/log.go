package taskman

import (
	"strconv"
	"strings"

	"taskmgr/pkg/histogram"
	"taskmgr/pkg/logx"
)

// DefaultNameWidth is the column width used for names in stats lines.
const DefaultNameWidth = 20

// StatsLine formats the task histogram as one table row:
//
//	| name                 |     3 < 2^1 ms |     0 < 2^2 ms | ... |     1 >= 2^9 ms | count: 4
//
// ok is false (and the line empty) when profiling is off or nothing was
// recorded since the last reported line.
func (t *Task) StatsLine(nameWidth int) (line string, ok bool) {
	if t.stats == nil || !t.stats.Updated() {
		return "", false
	}
	return formatStats(t.name, nameWidth, t.stats, t.unit), true
}

// Log emits the stats line through the task logger and marks the histogram
// as reported. It does nothing when StatsLine would report nothing.
func (t *Task) Log(nameWidth int) bool {
	line, ok := t.StatsLine(nameWidth)
	if !ok {
		return false
	}
	t.log.Info(line, logx.String("task", t.name), logx.Uint64("count", uint64(t.stats.Count())))
	t.stats.MarkProcessed()
	return true
}

// StatsLine formats the manager pass histogram. See Task.StatsLine.
func (m *Manager) StatsLine(nameWidth int) (string, bool) {
	if m.stats == nil || !m.stats.Updated() {
		return "", false
	}
	return formatStats(m.name, nameWidth, m.stats, m.unit), true
}

// Log emits the stats line of every task with news, then the manager's own
// line, and returns how many lines were written.
func (m *Manager) Log(nameWidth int) int {
	n := 0
	for _, t := range m.tasks {
		if t != nil && t.Log(nameWidth) {
			n++
		}
	}
	if line, ok := m.StatsLine(nameWidth); ok {
		m.log.Info(line, logx.Uint64("count", uint64(m.stats.Count())))
		m.stats.MarkProcessed()
		n++
	}
	return n
}

func formatStats(name string, width int, h *histogram.Histogram, unit Unit) string {
	var b strings.Builder
	b.Grow(256)
	b.WriteString("| ")
	writePadded(&b, name, width)

	n := int(h.Buckets())
	if n > 0 {
		u := unit.String()
		for i := 0; i < n; i++ {
			b.WriteString(" | ")
			val := strconv.FormatUint(uint64(h.Bucket(i)), 10)
			for c := len(val); c < 5; c++ {
				b.WriteByte(' ')
			}
			b.WriteString(val)
			k, open := histogram.UpperExponent(i, n)
			if open {
				b.WriteString(" >= 2^")
			} else {
				b.WriteString(" < 2^")
			}
			b.WriteString(strconv.Itoa(k))
			b.WriteByte(' ')
			b.WriteString(u)
		}
	}
	b.WriteString(" | count: ")
	b.WriteString(strconv.FormatUint(uint64(h.Count()), 10))
	return b.String()
}

func writePadded(b *strings.Builder, s string, width int) {
	if width <= 0 {
		b.WriteString(s)
		return
	}
	if len(s) >= width {
		b.WriteString(s[:width])
		return
	}
	b.WriteString(s)
	for c := len(s); c < width; c++ {
		b.WriteByte(' ')
	}
}
