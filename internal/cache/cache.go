// Package cache persists fetched message records per search query.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hal9000y/gmail-analyzer/internal/message"
)

// DefaultTTL is the age after which a cache entry is considered stale.
const DefaultTTL = 24 * time.Hour

// ErrMiss indicates no cache entry exists for a query.
var ErrMiss = errors.New("no cached data")

// Entry is a snapshot of the records fetched for one query.
type Entry struct {
	Query     string           `json:"query"`
	CreatedAt time.Time        `json:"created_at"`
	Records   []message.Record `json:"records"`
}

// IsStale reports whether the entry is at least ttl old at now.
func (e *Entry) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) >= ttl
}

// Store loads and saves cache entries.
type Store interface {
	Load(ctx context.Context, query string) (*Entry, error)
	Save(ctx context.Context, query string, records []message.Record) error
}

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open creates the store for the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewFileStore(dir)
	case BackendSQLite:
		return NewSQLiteStore(dir)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// Key derives the file name component for a query.
func Key(query string) string {
	if query == "" {
		return "all"
	}
	sum := sha1.Sum([]byte(query))
	return hex.EncodeToString(sum[:])[:10]
}

func entryPath(dir, query, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("messages_%s.%s", Key(query), ext))
}

func ensureDir(dir string) error {
	if dir == "" {
		return errors.New("cache dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("os.MkdirAll failed: %w", err)
	}
	return nil
}

// replaceFile moves tmp over dst, removing tmp when the rename fails.
func replaceFile(tmp, dst string) error {
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("os.Rename failed: %w", err)
	}
	return nil
}
