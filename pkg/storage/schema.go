package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the relay database schema.
// Timestamps are stored as unix milliseconds so both drivers scan them the same way.
const Schema = `
CREATE TABLE IF NOT EXISTS groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    auto_switch_enabled BOOLEAN NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS backends (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id INTEGER NOT NULL REFERENCES groups(id),
    name TEXT NOT NULL,
    provider TEXT NOT NULL,
    base_url TEXT NOT NULL,
    api_key TEXT NOT NULL,
    sort_order INTEGER NOT NULL DEFAULT 0,
    available BOOLEAN NOT NULL DEFAULT 1,
    last_latency_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS switch_logs (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    reason TEXT NOT NULL,
    from_backend_id INTEGER,
    to_backend_id INTEGER NOT NULL,
    group_id INTEGER NOT NULL,
    cross_group BOOLEAN NOT NULL DEFAULT 0,
    latency_before_ms INTEGER NOT NULL DEFAULT 0,
    latency_after_ms INTEGER NOT NULL DEFAULT 0,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS request_logs (
    id TEXT PRIMARY KEY,
    backend_id INTEGER NOT NULL,
    group_id INTEGER NOT NULL,
    method TEXT NOT NULL,
    path TEXT NOT NULL,
    client_format TEXT,
    upstream_format TEXT,
    model TEXT,
    mapped_model TEXT,
    status_code INTEGER NOT NULL,
    stream BOOLEAN NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error_type TEXT,
    error_message TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS model_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_model TEXT NOT NULL,
    target_model TEXT NOT NULL,
    direction TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    custom BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_backends_group ON backends(group_id, sort_order);
CREATE INDEX IF NOT EXISTS idx_switch_logs_group ON switch_logs(group_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_request_logs_created ON request_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_request_logs_backend ON request_logs(backend_id);
CREATE INDEX IF NOT EXISTS idx_model_mappings_source ON model_mappings(source_model, direction);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
