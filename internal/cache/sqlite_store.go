package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hal9000y/gmail-analyzer/internal/message"
)

// SQLiteStore keeps one SQLite database file per query.
type SQLiteStore struct {
	dir string
	now func() time.Time
}

// NewSQLiteStore creates the cache directory if needed.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &SQLiteStore{dir: dir, now: time.Now}, nil
}

// WithClock sets the time source used to stamp saved entries.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// Path returns the database file used for query.
func (s *SQLiteStore) Path(query string) string {
	return entryPath(s.dir, query, "sqlite")
}

type recordRow struct {
	Position      int64  `db:"position"`
	ID            string `db:"id"`
	ThreadID      string `db:"thread_id"`
	SenderName    string `db:"sender_name"`
	SenderAddress string `db:"sender_address"`
	FromHeader    string `db:"from_header"`
	DateHeader    string `db:"date_header"`
	ReceivedMs    int64  `db:"received_ms"`
	Subject       string `db:"subject"`
	Labels        string `db:"labels"`
	SizeEstimate  int64  `db:"size_estimate"`
}

// Load reads the entry for query, returning ErrMiss when there is none.
func (s *SQLiteStore) Load(ctx context.Context, query string) (*Entry, error) {
	path := s.Path(query)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("os.Stat failed: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlx.Open failed: %w", err)
	}
	defer func() { _ = db.Close() }()

	var head struct {
		Query     string `db:"query"`
		CreatedAt int64  `db:"created_at"`
	}
	if err := db.GetContext(ctx, &head, "SELECT query, created_at FROM entry LIMIT 1"); err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	if head.Query != query {
		return nil, ErrMiss
	}

	var rows []recordRow
	if err := db.SelectContext(ctx, &rows, "SELECT * FROM records ORDER BY position"); err != nil {
		return nil, fmt.Errorf("reading cached records: %w", err)
	}

	entry := &Entry{
		Query:     head.Query,
		CreatedAt: time.UnixMilli(head.CreatedAt).UTC(),
		Records:   make([]message.Record, 0, len(rows)),
	}
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("decoding cached record %s: %w", row.ID, err)
		}
		entry.Records = append(entry.Records, rec)
	}

	return entry, nil
}

// Save replaces the database for query. A new database is written next to the old one and
// renamed over it, so the previous entry stays intact if writing fails.
func (s *SQLiteStore) Save(ctx context.Context, query string, records []message.Record) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp_messages_*.sqlite")
	if err != nil {
		return fmt.Errorf("os.CreateTemp failed: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := s.write(ctx, tmpPath, query, records); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return replaceFile(tmpPath, s.Path(query))
}

func (s *SQLiteStore) write(ctx context.Context, path, query string, records []message.Record) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("sqlx.Open failed: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO entry (query, created_at) VALUES (?, ?)",
		query, s.now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO records (
			position, id, thread_id, sender_name, sender_address,
			from_header, date_header, received_ms, subject, labels, size_estimate
		) VALUES (
			:position, :id, :thread_id, :sender_name, :sender_address,
			:from_header, :date_header, :received_ms, :subject, :labels, :size_estimate
		)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, rec := range records {
		row, err := newRecordRow(int64(i), rec)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("inserting record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx.Commit failed: %w", err)
	}

	return nil
}

// runMigrations applies every migration newer than the recorded schema version.
func runMigrations(db *sqlx.DB) error {
	currentVersion := 0

	var tableCount int
	err := db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		if err := db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func newRecordRow(position int64, rec message.Record) (recordRow, error) {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return recordRow{}, fmt.Errorf("json.Marshal failed: %w", err)
	}

	var receivedMs int64
	if !rec.Received.IsZero() {
		receivedMs = rec.Received.UnixMilli()
	}

	return recordRow{
		Position:      position,
		ID:            rec.ID,
		ThreadID:      rec.ThreadID,
		SenderName:    rec.Sender.Name,
		SenderAddress: rec.Sender.Address,
		FromHeader:    rec.From,
		DateHeader:    rec.Date,
		ReceivedMs:    receivedMs,
		Subject:       rec.Subject,
		Labels:        string(labels),
		SizeEstimate:  rec.SizeEstimate,
	}, nil
}

func (r recordRow) record() (message.Record, error) {
	rec := message.Record{
		ID:           r.ID,
		ThreadID:     r.ThreadID,
		Sender:       message.Address{Name: r.SenderName, Address: r.SenderAddress},
		From:         r.FromHeader,
		Date:         r.DateHeader,
		Subject:      r.Subject,
		SizeEstimate: r.SizeEstimate,
	}
	if r.ReceivedMs != 0 {
		rec.Received = time.UnixMilli(r.ReceivedMs).UTC()
	}
	if err := json.Unmarshal([]byte(r.Labels), &rec.Labels); err != nil {
		return message.Record{}, fmt.Errorf("json.Unmarshal failed: %w", err)
	}

	return rec, nil
}
