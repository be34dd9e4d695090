package types

import (
	"errors"
	"time"
)

// StateRecord is one row of the agent state store: the latest status a
// session instance reported, keyed by its derived identity key.
//
// A record's existence means "as of UpdatedAt, this identity last reported
// Status". The store keeps no history; absence of a record is the same
// whether the identity never reported or was explicitly deleted.
type StateRecord struct {
	// Key is the composite identity key: label+instance_id+created.
	Key string `json:"key"`

	// Namespace is the working directory the session runs in, used for
	// bulk administrative deletion. Stored in the "repo" column.
	Namespace string `json:"repo"`

	// Status is a free-form caller-chosen tag ("working", "waiting", ...).
	// Only structural validity is enforced, never semantics.
	Status string `json:"status"`

	// UpdatedAt is set on every write for the key.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store errors.
var (
	// ErrStorageUnavailable reports that the backing database file cannot
	// be opened, locked, or is not a valid store. Corruption is surfaced to
	// the operator rather than recreating the file and discarding data.
	ErrStorageUnavailable = errors.New("agent state storage unavailable")

	// ErrInvalidIdentity reports that key derivation produced an empty or
	// malformed key. The write is rejected instead of storing a corrupt row.
	ErrInvalidIdentity = errors.New("invalid agent identity key")
)
