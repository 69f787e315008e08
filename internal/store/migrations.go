package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create kv entries",
		SQL: `
			CREATE TABLE kv_entries (
				key         TEXT PRIMARY KEY,
				kind        TEXT NOT NULL,
				value       TEXT NOT NULL,
				expires_at  INTEGER,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_kv_expires ON kv_entries (expires_at) WHERE expires_at IS NOT NULL;
		`,
	},
}
