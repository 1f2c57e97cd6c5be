package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/evalbot/internal/version"
)

// document is the on-disk shape of the record file.
// Unknown fields are ignored on read so newer files stay loadable.
type document struct {
	Version int             `json:"version"`
	Records []CommandRecord `json:"records"`
}

// Load reads the record document at path.
//
// A missing file yields an empty store. A file that exists but cannot be
// read or decoded yields a *PersistenceError.
func Load(path string) (*Store, error) {
	s := newStore(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}

	records, err := decode(data)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	for _, rec := range records {
		if rec.Dead() {
			continue
		}
		s.records[rec.Key()] = rec
	}
	return s, nil
}

func decode(data []byte) ([]CommandRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	// The earlier bot wrote a bare [{msg, reply, date}] list. Its entries
	// carry no chat id, so they cannot be keyed and must not load as empty.
	if trimmed[0] == '[' {
		return nil, errors.New("decode record document: bare record list without chat ids is not supported")
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode record document: %w", err)
	}
	if doc.Version == 0 {
		return nil, errors.New("decode record document: missing version")
	}
	for i, rec := range doc.Records {
		if rec.ChatID == 0 || rec.CommandMessageID == 0 {
			return nil, fmt.Errorf("decode record document: record %d has no key", i)
		}
	}
	return doc.Records, nil
}

// SnapshotAndPersist writes the full record state to disk, replacing the
// previous document atomically.
//
// On failure the in-memory state is untouched and the store stays dirty, so
// the next call retries the write.
func (s *Store) SnapshotAndPersist() error {
	if s.path == "" {
		s.mu.Lock()
		s.saved = s.gen
		s.mu.Unlock()
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	gen := s.gen
	doc := document{Version: version.RecordFormat, Records: s.sortedLocked()}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "persist", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data); err != nil {
		return &PersistenceError{Op: "persist", Path: s.path, Err: err}
	}

	s.mu.Lock()
	if gen > s.saved {
		s.saved = gen
	}
	s.mu.Unlock()
	return nil
}

// writeFileAtomic writes data to a temp file next to path, syncs it, and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Make the rename itself durable. Not every platform supports syncing a
	// directory handle, so failures here are ignored.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
