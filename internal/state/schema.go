package state

// schemaDDL creates the single state table. One row per identity key, the
// latest status only. IF NOT EXISTS keeps initialization idempotent across
// uncoordinated writers.
//
//	key        label+instance_id+created, primary identity
//	repo       working directory of the session (namespace)
//	status     free-form caller-chosen state string
//	updated_at set on every write
const schemaDDL = `CREATE TABLE IF NOT EXISTS state (
    key TEXT PRIMARY KEY,
    repo TEXT NOT NULL,
    status TEXT NOT NULL,
    updated_at TIMESTAMP
);`
