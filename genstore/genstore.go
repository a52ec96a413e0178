// Package genstore keeps the epoch of a persisted namespace. Clearing a
// cache bumps its epoch; snapshots written under an older epoch are stale.
package genstore

import "context"

// GenStore abstracts where epochs live.
// Use Local (default) for one process, or Redis to share epochs between
// processes and across restarts.
type GenStore interface {
	// Snapshot returns the current epoch; missing => 0.
	Snapshot(ctx context.Context, ns string) (uint64, error)
	// Bump atomically increments and returns the new epoch.
	Bump(ctx context.Context, ns string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
