// Package persist provides the durable backends behind the vector store:
// a single-file SQLite database for standalone deployments and Qdrant for
// shared ones.
package persist

import (
	"context"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/qdrant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// New opens the backend selected by cfg.Backend. The "memory" backend
// returns a nil Persister, which the engine treats as no persistence.
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (vectorstore.Persister, error) {
	switch cfg.Backend {
	case "memory":
		return nil, nil
	case "sqlite", "":
		return OpenSQLite(ctx, config.ExpandPath(cfg.Path), logger)
	case "qdrant":
		if logger == nil {
			logger = logging.Nop()
		}
		client, err := qdrant.NewGRPCClient(&qdrant.ClientConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			UseTLS:         cfg.Qdrant.UseTLS,
			MaxMessageSize: cfg.Qdrant.MaxMessageSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		return NewQdrant(client, cfg.Qdrant.CollectionPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// sortByPosition orders passages by their saved positions.
func sortByPosition(passages []vectorstore.StoredPassage, positions []int) {
	sort.Stable(byPosition{passages: passages, positions: positions})
}

type byPosition struct {
	passages  []vectorstore.StoredPassage
	positions []int
}

func (b byPosition) Len() int           { return len(b.passages) }
func (b byPosition) Less(i, j int) bool { return b.positions[i] < b.positions[j] }
func (b byPosition) Swap(i, j int) {
	b.passages[i], b.passages[j] = b.passages[j], b.passages[i]
	b.positions[i], b.positions[j] = b.positions[j], b.positions[i]
}
