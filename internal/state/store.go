// Package state implements the durable agent state store on SQLite.
//
// Writers are independent short-lived hook processes with no coordination
// protocol between them; the only synchronization is the atomicity SQLite
// grants a single statement. Every operation is therefore one bounded
// parameterized statement, and each process opens its own connection.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/gabemahoney/waggle/pkg/types"
)

// Structural bounds applied at this boundary so the engine never receives
// malformed values. Status semantics are the caller's business.
const (
	maxKeyLen       = 1024
	maxStatusLen    = 512
	maxNamespaceLen = 4096
)

// busyTimeout bounds the wait on a locked database. Hooks run synchronously
// inside an interactive session and must surface a timeout error rather
// than stall it.
const busyTimeout = 5 * time.Second

// Store is a handle on the agent state database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the state database at path and ensures
// the schema exists. The file and its parent directory are created with
// user-only permissions. A file that exists but is not a valid database
// yields ErrStorageUnavailable; the file is left untouched for the
// operator to inspect, never silently recreated.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create state dir: %v", types.ErrStorageUnavailable, err)
	}

	// Pre-create so the database file is 0600 regardless of driver defaults.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", types.ErrStorageUnavailable, path, err)
	}
	f.Close()

	// busy_timeout and synchronous are per-connection settings; carrying
	// them in the DSN makes the driver apply them to every connection the
	// pool opens, not just the first.
	dsn := path + fmt.Sprintf("?_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)", busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", types.ErrStorageUnavailable, path, err)
	}

	// WAL is persisted in the database file, so setting it once is enough.
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: PRAGMA journal_mode = WAL: %v", types.ErrStorageUnavailable, err)
	}

	s := &Store{db: db, path: path}
	if err := s.validate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection. Idempotent; operations after
// Close fail with a storage error rather than panic.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the backing database file path.
func (s *Store) Path() string {
	return s.path
}

// validate probes the file through the engine. SQLite reports "file is not
// a database" on the first real read of a corrupt file.
func (s *Store) validate() error {
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %s is not a valid state database: %v", types.ErrStorageUnavailable, s.path, err)
	}
	return nil
}

// ensureSchema creates the state table if absent. Idempotent and safe under
// races between concurrent first-time initializers: IF NOT EXISTS makes the
// losing creator a no-op.
func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("%w: initialize schema: %v", types.ErrStorageUnavailable, err)
	}
	return nil
}

// Upsert records the latest status for key, creating the row or overwriting
// namespace, status, and updated_at in one engine-native statement. Two
// racing upserts on the same key leave the row equal to one caller's full
// payload, never a mix of fields.
func (s *Store) Upsert(ctx context.Context, key, namespace, status string) error {
	key, err := validKey(key)
	if err != nil {
		return err
	}
	namespace = sanitizeText(namespace, maxNamespaceLen)
	status = sanitizeText(status, maxStatusLen)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state (key, repo, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			repo = excluded.repo,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		key, namespace, status, now())
	if err != nil {
		return fmt.Errorf("%w: upsert %q: %v", types.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Delete removes the record for key. Deleting an absent key is a no-op
// success, not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := validKey(key)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: delete %q: %v", types.ErrStorageUnavailable, key, err)
	}
	return nil
}

// List returns a snapshot of every record. SQLite's statement-level
// isolation means a concurrent write is either fully visible or not at all,
// never a torn row. An empty store yields an empty slice.
func (s *Store) List(ctx context.Context) ([]types.StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, repo, status, updated_at FROM state`)
	if err != nil {
		return nil, fmt.Errorf("%w: list state: %v", types.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	records := []types.StateRecord{}
	for rows.Next() {
		var rec types.StateRecord
		var updated string
		if err := rows.Scan(&rec.Key, &rec.Namespace, &rec.Status, &updated); err != nil {
			return nil, fmt.Errorf("%w: scan state row: %v", types.ErrStorageUnavailable, err)
		}
		// A row with a mangled timestamp still lists, carrying a zero
		// UpdatedAt instead of failing the whole query.
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list state: %v", types.ErrStorageUnavailable, err)
	}
	return records, nil
}

// DeleteNamespace removes every record whose namespace equals ns or lives
// under it, and returns the number of rows removed. Zero matches is not an
// error.
func (s *Store) DeleteNamespace(ctx context.Context, ns string) (int64, error) {
	ns = sanitizeText(ns, maxNamespaceLen)
	if ns == "" {
		return 0, fmt.Errorf("%w: empty namespace", types.ErrInvalidIdentity)
	}
	ns = strings.TrimRight(ns, "/")
	if ns == "" {
		ns = "/"
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM state WHERE repo = ? OR repo LIKE ?`, ns, ns+"/%")
	if err != nil {
		return 0, fmt.Errorf("%w: delete namespace %q: %v", types.ErrStorageUnavailable, ns, err)
	}
	return res.RowsAffected()
}

// DeleteKeys removes the given records in a single statement and returns
// the number of rows removed. Used by the liveness pruner.
func (s *Store) DeleteKeys(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(keys)-1) + "?"
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM state WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete keys: %v", types.ErrStorageUnavailable, err)
	}
	return res.RowsAffected()
}

// validKey rejects empty or malformed keys so a corrupt row is never stored.
func validKey(key string) (string, error) {
	key = sanitizeText(key, maxKeyLen)
	if key == "" {
		return "", fmt.Errorf("%w: empty key", types.ErrInvalidIdentity)
	}
	return key, nil
}

// sanitizeText strips control characters and truncates to maxLen runes.
func sanitizeText(raw string, maxLen int) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsControl(r) {
			continue
		}
		if n >= maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
