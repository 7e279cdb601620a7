package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// BroadcastRecord is the persisted outcome of one finished broadcast.
// Keep it compact and schema-stable.
type BroadcastRecord struct {
	JobID       string    `json:"job_id"`
	Owner       string    `json:"owner,omitempty"`
	Total       int       `json:"total"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Aborted     bool      `json:"aborted,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ResultsJSON string    `json:"results,omitempty"` // per-destination outcomes, pre-encoded
}
