package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.yaml.in/yaml/v3"

	"taskmgr/pkg/taskman"
)

// Snapshot is an immutable export of a manager taken inside its loop.
type Snapshot struct {
	At       time.Time
	Manager  taskman.Document
	Tasks    map[string]taskman.Document
	Async    bool
	Profiled bool
}

// Publisher stores the latest snapshot of a manager for readers on other
// goroutines.
type Publisher struct {
	m    *taskman.Manager
	cur  atomic.Pointer[Snapshot]
	task *taskman.Task
	now  func() time.Time
}

// NewPublisher registers a REPEATING task named "publish" in m.
func NewPublisher(m *taskman.Manager, every time.Duration) *Publisher {
	p := &Publisher{m: m, now: time.Now}
	p.task = m.NewTask("publish", func(any) { p.Publish() }, taskman.Every(every))
	return p
}

func (p *Publisher) Task() *taskman.Task { return p.task }

// Publish takes a snapshot now. It must run on the goroutine driving the
// manager.
func (p *Publisher) Publish() *Snapshot {
	doc := p.m.Document()
	tasks := map[string]taskman.Document{}
	if list, ok := doc["tasks"].([]any); ok {
		for _, v := range list {
			if td, ok := v.(taskman.Document); ok {
				if name, _ := td["name"].(string); name != "" {
					if _, dup := tasks[name]; !dup {
						tasks[name] = td
					}
				}
			}
		}
	}
	s := &Snapshot{
		At:       p.now(),
		Manager:  doc,
		Tasks:    tasks,
		Async:    p.m.IsAsync(),
		Profiled: p.m.IsProfiled(),
	}
	p.cur.Store(s)
	return s
}

// Latest returns the last published snapshot, or nil.
func (p *Publisher) Latest() *Snapshot { return p.cur.Load() }

// Encode writes doc as "json" (indented) or "yaml".
func Encode(w io.Writer, doc any, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (use json or yaml)", format)
	}
}
