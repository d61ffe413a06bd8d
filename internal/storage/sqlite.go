//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "sprinklerd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Programs(ctx context.Context) ([]ProgramRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx, data FROM programs ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProgramRow
	for rows.Next() {
		var r ProgramRow
		var data string
		if err := rows.Scan(&r.Index, &data); err != nil {
			return nil, err
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutProgram(ctx context.Context, index int, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO programs(idx, data) VALUES(?,?)
		 ON CONFLICT(idx) DO UPDATE SET data=excluded.data`,
		index, string(data),
	)
	return err
}

func (s *sqliteStore) DeleteProgram(ctx context.Context, index int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM programs WHERE idx = ?`, index)
	return err
}

func (s *sqliteStore) Runs(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM runs ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

// ReplaceRuns swaps the whole run table in one transaction.
func (s *sqliteStore) ReplaceRuns(ctx context.Context, rows [][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO runs(seq, data) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx, i, string(r)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, actor, action, target, detail, err) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.At.Format(time.RFC3339Nano), nullStr(e.Actor), e.Action, nullStr(e.Target), nullStr(e.Detail), nullStr(e.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
