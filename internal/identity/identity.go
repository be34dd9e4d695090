// Package identity derives the composite key that names one agent session
// instance in the state store.
//
// The key is label+instance_id+created. The label alone is not unique:
// sessions are routinely restarted or reused under the same label, so the
// instance id and creation time disambiguate distinct physical instances.
// When the session registry is unreachable every field independently falls
// back to the sentinel "unknown"; callers invoked outside any session
// context therefore collapse onto the same key. That collapse is a
// documented limitation, not something this package papers over.
package identity

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/gabemahoney/waggle/pkg/types"
)

// Delimiter joins the three key fields. Occurrences inside a field are
// percent-escaped so a stored key always splits back into exactly three.
const Delimiter = "+"

// Sentinel substitutes for any field the session registry could not supply.
const Sentinel = "unknown"

// maxFieldLen bounds each source field before it reaches the store.
const maxFieldLen = 256

// Identity names one session instance.
type Identity struct {
	// Label is the human session name (tmux #{session_name}).
	Label string
	// InstanceID is the opaque per-instance id (tmux #{session_id}, "$3").
	InstanceID string
	// Created is the session creation time as a unix-epoch string
	// (tmux #{session_created}).
	Created string
}

// New builds an Identity from raw registry fields, sanitizing each and
// substituting the sentinel for any that is empty.
func New(label, instanceID, created string) Identity {
	return Identity{
		Label:      fieldOrSentinel(label),
		InstanceID: fieldOrSentinel(instanceID),
		Created:    fieldOrSentinel(created),
	}
}

// Unknown returns the identity used when no session context is available.
// It is deterministic: repeated calls yield the same key.
func Unknown() Identity {
	return Identity{Label: Sentinel, InstanceID: Sentinel, Created: Sentinel}
}

// Key serializes the identity as label+instance_id+created with delimiter
// occurrences escaped. The result is never empty.
func (id Identity) Key() string {
	return strings.Join([]string{
		escapeField(fieldOrSentinel(id.Label)),
		escapeField(fieldOrSentinel(id.InstanceID)),
		escapeField(fieldOrSentinel(id.Created)),
	}, Delimiter)
}

// ParseKey splits a stored key back into its identity fields.
// Returns ErrInvalidIdentity for keys that do not have exactly three fields;
// listings skip such rows rather than fail.
func ParseKey(key string) (Identity, error) {
	parts := strings.Split(key, Delimiter)
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("%w: key %q has %d fields, want 3", types.ErrInvalidIdentity, key, len(parts))
	}
	for _, part := range parts {
		if part == "" {
			return Identity{}, fmt.Errorf("%w: key %q has an empty field", types.ErrInvalidIdentity, key)
		}
	}
	return Identity{
		Label:      unescapeField(parts[0]),
		InstanceID: unescapeField(parts[1]),
		Created:    unescapeField(parts[2]),
	}, nil
}

// fieldOrSentinel sanitizes a raw field and falls back to the sentinel when
// nothing usable remains.
func fieldOrSentinel(raw string) string {
	cleaned := sanitizeField(raw)
	if cleaned == "" {
		return Sentinel
	}
	return cleaned
}

// sanitizeField strips control characters and truncates to maxFieldLen runes.
func sanitizeField(raw string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsControl(r) {
			continue
		}
		if n >= maxFieldLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// escapeField disguises the delimiter (and the escape character itself)
// inside a field so the composite key splits unambiguously.
func escapeField(field string) string {
	field = strings.ReplaceAll(field, "%", "%25")
	return strings.ReplaceAll(field, Delimiter, "%2B")
}

func unescapeField(field string) string {
	field = strings.ReplaceAll(field, "%2B", Delimiter)
	return strings.ReplaceAll(field, "%25", "%")
}
