package stats

// Schema history for the query_events table. Migrations are additive
// only and gated by PRAGMA user_version; rows written before a column
// existed read back as zero/unknown, never as a load failure.

const schemaVersion = 5

// baseSchema is version 1: query identity and timing.
const baseSchema = `
CREATE TABLE IF NOT EXISTS query_events (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    agent_type    TEXT NOT NULL,
    source        TEXT NOT NULL DEFAULT 'user',
    start_time    TEXT NOT NULL,
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    project_path  TEXT,
    tab_id        TEXT,
    is_remote     INTEGER NOT NULL DEFAULT 0,
    uuid          TEXT,
    message_id    TEXT
);

CREATE INDEX IF NOT EXISTS idx_query_events_start ON query_events(start_time);
CREATE INDEX IF NOT EXISTS idx_query_events_session ON query_events(session_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_query_events_natural
    ON query_events(session_id, uuid) WHERE uuid IS NOT NULL AND uuid != '';

CREATE TABLE IF NOT EXISTS audit_runs (
    id            TEXT PRIMARY KEY,
    created_at    TEXT NOT NULL,
    period_start  TEXT NOT NULL,
    period_end    TEXT NOT NULL,
    result_json   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_runs_created ON audit_runs(created_at);
`

// migrations[n] upgrades user_version n to n+1. Index 0 is unused: the
// base schema brings a fresh database straight to version 1.
var migrations = [schemaVersion][]string{
	1: { // token counters
		`ALTER TABLE query_events ADD COLUMN input_tokens INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE query_events ADD COLUMN output_tokens INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE query_events ADD COLUMN tokens_per_second REAL NOT NULL DEFAULT 0`,
	},
	2: { // cache token counters
		`ALTER TABLE query_events ADD COLUMN cache_read_input_tokens INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE query_events ADD COLUMN cache_creation_input_tokens INTEGER NOT NULL DEFAULT 0`,
	},
	3: { // dual-source cost figures
		`ALTER TABLE query_events ADD COLUMN anthropic_cost_usd REAL NOT NULL DEFAULT 0`,
		`ALTER TABLE query_events ADD COLUMN anthropic_model TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE query_events ADD COLUMN maestro_cost_usd REAL NOT NULL DEFAULT 0`,
		`ALTER TABLE query_events ADD COLUMN maestro_billing_mode TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE query_events ADD COLUMN maestro_pricing_model TEXT NOT NULL DEFAULT ''`,
	},
	4: { // per-agent attribution
		`ALTER TABLE query_events ADD COLUMN agent_id TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS idx_query_events_agent ON query_events(agent_id)`,
	},
}
