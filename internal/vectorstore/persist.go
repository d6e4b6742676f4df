package vectorstore

import (
	"context"
	"time"
)

// PartitionSnapshot is the full content of one partition. For Personal
// scopes CreatedAt and ExpiresAt carry the session lifetime.
type PartitionSnapshot struct {
	Scope     Scope
	CreatedAt time.Time
	ExpiresAt time.Time
	Passages  []StoredPassage
}

// Snapshot is everything a Persister restores at startup.
type Snapshot struct {
	Dimension  int
	Partitions []PartitionSnapshot
}

// Persister is the durable backend behind the in-memory store. The engine
// calls it after every mutation with the complete new state of each affected
// partition; implementations replace rather than merge.
type Persister interface {
	// Load returns the persisted state. Expired sessions may be included;
	// the store drops them.
	Load(ctx context.Context) (*Snapshot, error)

	// SavePartition replaces the stored content of p.Scope.
	SavePartition(ctx context.Context, p PartitionSnapshot) error

	// DeleteSession removes a Personal partition.
	DeleteSession(ctx context.Context, sessionID string) error

	// SaveDimension records the store-wide embedding dimension.
	SaveDimension(ctx context.Context, dim int) error

	Close() error
}
