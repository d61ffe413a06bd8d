package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshots + jsonl audit)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ProgramRow is one persisted program slot.
type ProgramRow struct {
	Index int
	Data  json.RawMessage
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Actor  string    `json:"actor,omitempty"`
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// NewAuditEntry stamps a fresh id and the current time.
func NewAuditEntry(action, target string) AuditEntry {
	return AuditEntry{ID: uuid.NewString(), At: time.Now(), Action: action, Target: target}
}
