package cache

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations of a SQLite cache file.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entry (
	query      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	position       INTEGER PRIMARY KEY,
	id             TEXT NOT NULL,
	thread_id      TEXT NOT NULL DEFAULT '',
	sender_name    TEXT NOT NULL DEFAULT '',
	sender_address TEXT NOT NULL DEFAULT '',
	from_header    TEXT NOT NULL DEFAULT '',
	date_header    TEXT NOT NULL DEFAULT '',
	received_ms    INTEGER NOT NULL DEFAULT 0,
	subject        TEXT NOT NULL DEFAULT '',
	labels         TEXT NOT NULL DEFAULT 'null',
	size_estimate  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_records_sender ON records(sender_address);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
