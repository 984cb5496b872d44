package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/hal9000y/gmail-analyzer/internal/message"
)

// FileStore keeps one JSON file per query.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Path returns the cache file used for query.
func (s *FileStore) Path(query string) string {
	return entryPath(s.dir, query, "json")
}

// Load reads the entry for query, returning ErrMiss when there is none.
func (s *FileStore) Load(_ context.Context, query string) (*Entry, error) {
	f, err := os.Open(s.Path(query))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("os.Open failed: %w", err)
	}
	defer func() { _ = f.Close() }()

	entry := &Entry{}
	if err := json.NewDecoder(f).Decode(entry); err != nil {
		return nil, fmt.Errorf("json.NewDecoder.Decode failed: %w", err)
	}

	if entry.Query != query {
		return nil, ErrMiss
	}

	return entry, nil
}

// Save replaces the entry for query. The previous entry stays intact if writing fails.
func (s *FileStore) Save(_ context.Context, query string, records []message.Record) error {
	entry := Entry{
		Query:     query,
		CreatedAt: s.now().UTC(),
		Records:   records,
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp_messages_*")
	if err != nil {
		return fmt.Errorf("os.CreateTemp failed: %w", err)
	}

	if err := json.NewEncoder(tmp).Encode(entry); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("json.NewEncoder.Encode failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("tmp.Close failed: %w", err)
	}

	return replaceFile(tmp.Name(), s.Path(query))
}

// WithClock sets the time source used to stamp saved entries.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.now = now
	return s
}
