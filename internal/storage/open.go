package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	logx "sprinklerd/pkg/logx"
)

// Store is the persistence API used by the daemon.
type Store interface {
	Programs(ctx context.Context) ([]ProgramRow, error)
	PutProgram(ctx context.Context, index int, data []byte) error
	DeleteProgram(ctx context.Context, index int) error

	Runs(ctx context.Context) ([]json.RawMessage, error)
	ReplaceRuns(ctx context.Context, rows [][]byte) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
