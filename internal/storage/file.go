package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	logx "sprinklerd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.programs.json (slot index -> program record)
//   - <prefix>.runs.json     (run log rows, oldest first)
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
//
// Snapshots are rewritten whole through a temp file and rename.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	programsPath string
	runsPath     string
	auditFile    *os.File

	programs map[int]json.RawMessage
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		programsPath: prefix + ".programs.json",
		runsPath:     prefix + ".runs.json",
		programs:     map[int]json.RawMessage{},
	}

	var raw map[string]json.RawMessage
	if err := readJSON(s.programsPath, &raw); err != nil {
		return nil, fmt.Errorf("read programs: %w", err)
	}
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			log.Warn("ignoring program slot", logx.String("slot", k))
			continue
		}
		s.programs[idx] = v
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) Programs(context.Context) ([]ProgramRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProgramRow, 0, len(s.programs))
	for idx, data := range s.programs {
		out = append(out, ProgramRow{Index: idx, Data: append(json.RawMessage(nil), data...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *fileStore) PutProgram(_ context.Context, index int, data []byte) error {
	if index < 0 {
		return fmt.Errorf("program slot %d", index)
	}
	if !json.Valid(data) {
		return fmt.Errorf("program slot %d: invalid json", index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.programs[index]
	s.programs[index] = append(json.RawMessage(nil), data...)
	if err := s.flushProgramsLocked(); err != nil {
		if had {
			s.programs[index] = prev
		} else {
			delete(s.programs, index)
		}
		return err
	}
	return nil
}

func (s *fileStore) DeleteProgram(_ context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.programs[index]
	if !had {
		return nil
	}
	delete(s.programs, index)
	if err := s.flushProgramsLocked(); err != nil {
		s.programs[index] = prev
		return err
	}
	return nil
}

func (s *fileStore) flushProgramsLocked() error {
	out := make(map[string]json.RawMessage, len(s.programs))
	for idx, data := range s.programs {
		out[strconv.Itoa(idx)] = data
	}
	return writeJSON(s.programsPath, out)
}

func (s *fileStore) Runs(context.Context) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []json.RawMessage
	if err := readJSON(s.runsPath, &rows); err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	return rows, nil
}

func (s *fileStore) ReplaceRuns(_ context.Context, rows [][]byte) error {
	out := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.runsPath, out)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
