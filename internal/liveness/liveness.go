// Package liveness cross-checks stored agent records against the live
// session registry. A record whose session no longer exists is orphaned.
//
// Listing only annotates orphans; deleting them is a separate explicit
// administrative action so a read never silently loses data.
package liveness

import (
	"context"

	"github.com/gabemahoney/waggle/pkg/types"
)

// Registry reports which identity keys currently have a live session.
// Implemented by the tmux client.
type Registry interface {
	LiveKeys(ctx context.Context) (map[string]bool, error)
}

// Store is the slice of the state store the pruner needs.
type Store interface {
	List(ctx context.Context) ([]types.StateRecord, error)
	DeleteKeys(ctx context.Context, keys []string) (int64, error)
}

// Status pairs a stored record with its liveness.
type Status struct {
	types.StateRecord
	Orphaned bool `json:"orphaned"`
}

// Annotate marks each record orphaned when its key is absent from the live
// set. With a nil live set (registry unavailable) nothing is marked:
// "tmux down" must not read as "every session is dead".
func Annotate(records []types.StateRecord, live map[string]bool) []Status {
	statuses := make([]Status, len(records))
	for i, rec := range records {
		statuses[i] = Status{
			StateRecord: rec,
			Orphaned:    live != nil && !live[rec.Key],
		}
	}
	return statuses
}

// Prune deletes every orphaned record and returns the number removed.
// A registry failure aborts the prune with zero deletions.
func Prune(ctx context.Context, store Store, registry Registry) (int64, error) {
	live, err := registry.LiveKeys(ctx)
	if err != nil {
		return 0, err
	}

	records, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	var orphaned []string
	for _, rec := range records {
		if !live[rec.Key] {
			orphaned = append(orphaned, rec.Key)
		}
	}
	if len(orphaned) == 0 {
		return 0, nil
	}
	return store.DeleteKeys(ctx, orphaned)
}
