package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain bounds the rows kept by the sqlite backend; 0 keeps everything.
	Retain int
}

// RunRecord is one completed task run.
type RunRecord struct {
	At        time.Time `json:"at"`
	Manager   string    `json:"manager"`
	Task      string    `json:"task"`
	ElapsedUS int64     `json:"elapsed_us"`
}
