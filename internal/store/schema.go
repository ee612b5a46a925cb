package store

// SchemaVersion is the current local database schema version
const SchemaVersion = 1

const schema = `
-- Tasks table: the local source of truth for the UI.
-- server_id and correlation_id carry the sync identities; both are
-- indexed because the reconciler resolves incoming server records
-- through them on every merge.
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    server_id TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    completed INTEGER NOT NULL DEFAULT 0,
    labels TEXT NOT NULL DEFAULT '',
    workflow TEXT NOT NULL DEFAULT 'inbox',
    assignee TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_server_id ON tasks(server_id);
CREATE INDEX IF NOT EXISTS idx_tasks_correlation_id ON tasks(correlation_id);

-- Schema version bookkeeping
CREATE TABLE IF NOT EXISTS schema_meta (
    version INTEGER NOT NULL
);
`
