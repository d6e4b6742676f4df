package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/qdrant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Payload fields written on every point.
const (
	fieldScope      = "scope"
	fieldSessionID  = "session_id"
	fieldDocumentID = "document_id"
	fieldSeq        = "seq"
	fieldPosition   = "position"
	fieldContent    = "content"
	fieldMetadata   = "metadata"
	fieldModelID    = "model_id"
	fieldCreatedAt  = "created_at"
	fieldExpiresAt  = "expires_at"
)

// Qdrant persists each scope kind to its own collection:
// <prefix>_global, <prefix>_legacy and <prefix>_personal. Point ids are
// passage ids. Sessions live only as payload on their points, so a session
// with no passages is not persisted.
type Qdrant struct {
	client qdrant.Client
	prefix string
	logger *logging.Logger

	mu      sync.Mutex
	dim     int
	ensured map[string]bool
}

var _ vectorstore.Persister = (*Qdrant)(nil)

// NewQdrant wraps a connected client.
func NewQdrant(client qdrant.Client, prefix string, logger *logging.Logger) *Qdrant {
	if prefix == "" {
		prefix = "ragd"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Qdrant{
		client:  client,
		prefix:  prefix,
		logger:  logger,
		ensured: make(map[string]bool),
	}
}

func (q *Qdrant) collection(kind vectorstore.ScopeKind) string {
	return q.prefix + "_" + kind.String()
}

func (q *Qdrant) collections() []string {
	return []string{
		q.collection(vectorstore.ScopeGlobal),
		q.collection(vectorstore.ScopeLegacy),
		q.collection(vectorstore.ScopePersonal),
	}
}

// ensure creates name with dimension dim once per process.
func (q *Qdrant) ensure(ctx context.Context, name string, dim int) error {
	if q.ensured[name] {
		return nil
	}
	if err := q.client.EnsureCollection(ctx, name, uint64(dim)); err != nil {
		return fmt.Errorf("ensuring collection %s: %w", name, err)
	}
	q.ensured[name] = true
	return nil
}

// exists reports whether name can be written to without knowing the dimension.
func (q *Qdrant) exists(ctx context.Context, name string) (bool, error) {
	if q.ensured[name] {
		return true, nil
	}
	ok, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if ok {
		q.ensured[name] = true
	}
	return ok, nil
}

// SaveDimension creates all three collections at the given size.
func (q *Qdrant) SaveDimension(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.dim = dim
	for _, name := range q.collections() {
		if err := q.ensure(ctx, name, dim); err != nil {
			return err
		}
	}
	return nil
}

// SavePartition deletes the partition's points and upserts its new content.
func (q *Qdrant) SavePartition(ctx context.Context, p vectorstore.PartitionSnapshot) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	name := q.collection(p.Scope.Kind())
	dim := q.dim
	if dim == 0 && len(p.Passages) > 0 {
		dim = len(p.Passages[0].Vector)
	}

	if dim > 0 {
		if err := q.ensure(ctx, name, dim); err != nil {
			return err
		}
	} else {
		ok, err := q.exists(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	if err := q.client.DeleteByFilter(ctx, name, partitionFilter(p.Scope)); err != nil {
		return fmt.Errorf("clearing partition %s: %w", p.Scope, err)
	}
	if len(p.Passages) == 0 {
		return nil
	}

	points := make([]*qdrant.Point, 0, len(p.Passages))
	for i, sp := range p.Passages {
		pt, err := toPoint(p, i, sp)
		if err != nil {
			return err
		}
		points = append(points, pt)
	}
	if err := q.client.Upsert(ctx, name, points); err != nil {
		return fmt.Errorf("upserting partition %s: %w", p.Scope, err)
	}
	return nil
}

// DeleteSession removes every point of the session.
func (q *Qdrant) DeleteSession(ctx context.Context, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	name := q.collection(vectorstore.ScopePersonal)
	ok, err := q.exists(ctx, name)
	if err != nil || !ok {
		return err
	}
	if err := q.client.DeleteByFilter(ctx, name, qdrant.MatchField(fieldSessionID, sessionID)); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// Load scrolls all three collections.
func (q *Qdrant) Load(ctx context.Context) (*vectorstore.Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := &vectorstore.Snapshot{}
	index := make(map[string]int)
	positions := make(map[string][]int)

	for _, kind := range []vectorstore.ScopeKind{vectorstore.ScopeGlobal, vectorstore.ScopeLegacy, vectorstore.ScopePersonal} {
		name := q.collection(kind)
		ok, err := q.exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		points, err := q.client.Scroll(ctx, name, nil)
		if err != nil {
			return nil, fmt.Errorf("scrolling %s: %w", name, err)
		}

		for _, pt := range points {
			sp, sessionID, pos, err := fromPoint(pt)
			if err != nil {
				q.logger.Warn(ctx, "skipping unreadable point",
					zap.String("collection", name), zap.String("point_id", pt.ID), zap.Error(err))
				continue
			}
			scope, err := vectorstore.ScopeFor(kind, sessionID)
			if err != nil {
				q.logger.Warn(ctx, "skipping point with invalid scope",
					zap.String("collection", name), zap.String("point_id", pt.ID), zap.Error(err))
				continue
			}
			if snap.Dimension == 0 {
				snap.Dimension = len(sp.Vector)
			}

			key := scope.String()
			i, seen := index[key]
			if !seen {
				part := vectorstore.PartitionSnapshot{Scope: scope}
				if kind == vectorstore.ScopePersonal {
					part.CreatedAt = payloadTime(pt.Payload, fieldCreatedAt)
					part.ExpiresAt = payloadTime(pt.Payload, fieldExpiresAt)
				}
				snap.Partitions = append(snap.Partitions, part)
				i = len(snap.Partitions) - 1
				index[key] = i
			}
			snap.Partitions[i].Passages = append(snap.Partitions[i].Passages, sp)
			positions[key] = append(positions[key], pos)
		}
	}

	// Scroll returns points in id order; restore save order.
	for key, i := range index {
		sortByPosition(snap.Partitions[i].Passages, positions[key])
	}

	q.dim = snap.Dimension
	return snap, nil
}

// Close closes the underlying client.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

func partitionFilter(s vectorstore.Scope) *qdrant.Filter {
	if s.Kind() == vectorstore.ScopePersonal {
		return qdrant.MatchField(fieldSessionID, s.SessionID())
	}
	return nil
}

func toPoint(p vectorstore.PartitionSnapshot, position int, sp vectorstore.StoredPassage) (*qdrant.Point, error) {
	meta, err := json.Marshal(sp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata for %s: %w", sp.ID, err)
	}
	payload := map[string]interface{}{
		fieldScope:      p.Scope.Kind().String(),
		fieldSessionID:  p.Scope.SessionID(),
		fieldDocumentID: sp.DocumentID,
		fieldSeq:        sp.Seq,
		fieldPosition:   position,
		fieldContent:    sp.Content,
		fieldMetadata:   string(meta),
		fieldModelID:    sp.ModelID,
	}
	if p.Scope.Kind() == vectorstore.ScopePersonal {
		payload[fieldCreatedAt] = p.CreatedAt.UnixNano()
		payload[fieldExpiresAt] = p.ExpiresAt.UnixNano()
	}
	return &qdrant.Point{ID: sp.ID, Vector: sp.Vector, Payload: payload}, nil
}

func fromPoint(pt *qdrant.Point) (sp vectorstore.StoredPassage, sessionID string, position int, err error) {
	sp.ID = pt.ID
	sp.Vector = pt.Vector
	sp.DocumentID = payloadString(pt.Payload, fieldDocumentID)
	sp.Content = payloadString(pt.Payload, fieldContent)
	sp.ModelID = payloadString(pt.Payload, fieldModelID)
	sp.Seq = int(payloadInt(pt.Payload, fieldSeq))
	if raw := payloadString(pt.Payload, fieldMetadata); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sp.Metadata); err != nil {
			return sp, "", 0, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	if sp.DocumentID == "" || len(sp.Vector) == 0 {
		return sp, "", 0, fmt.Errorf("point %s is missing document id or vector", pt.ID)
	}
	return sp, payloadString(pt.Payload, fieldSessionID), int(payloadInt(pt.Payload, fieldPosition)), nil
}

func payloadString(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadInt(p map[string]interface{}, key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func payloadTime(p map[string]interface{}, key string) time.Time {
	n := payloadInt(p, key)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
