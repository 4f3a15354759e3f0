package queue

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	message_id     TEXT NOT NULL UNIQUE,
	thread_id      TEXT NOT NULL DEFAULT '',
	sender         TEXT NOT NULL,
	subject        TEXT NOT NULL DEFAULT '',
	rfc_message_id TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	attempt        INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL,
	last_error     TEXT NOT NULL DEFAULT '',
	ready_at       INTEGER NOT NULL,
	enqueued_at    INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_state_ready ON jobs(state, ready_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
