package persist

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS passages (
	passage_id  TEXT PRIMARY KEY,
	scope       TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT '',
	document_id TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	position    INTEGER NOT NULL,
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	embedding   BLOB,
	model_id    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_passages_partition ON passages(scope, session_id, position);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaDimension = "embedding_dimension"

// SQLite persists partitions to a single SQLite file. Every SavePartition
// rewrites one partition inside a transaction.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
}

var _ vectorstore.Persister = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, logger *logging.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info(ctx, "sqlite store opened", zap.String("path", path))
	return &SQLite{db: db, path: path, logger: logger}, nil
}

// SavePartition replaces the rows of p.Scope and, for a session, its
// lifetime record.
func (s *SQLite) SavePartition(ctx context.Context, p vectorstore.PartitionSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	kind := p.Scope.Kind().String()
	session := p.Scope.SessionID()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM passages WHERE scope = ? AND session_id = ?`, kind, session); err != nil {
		return fmt.Errorf("clearing partition %s: %w", p.Scope, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO passages
		(passage_id, scope, session_id, document_id, seq, position, content, metadata, embedding, model_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, sp := range p.Passages {
		meta, err := json.Marshal(sp.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %s: %w", sp.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			sp.ID, kind, session, sp.DocumentID, sp.Seq, i, sp.Content,
			string(meta), float32SliceToBytes(sp.Vector), sp.ModelID); err != nil {
			return fmt.Errorf("inserting passage %s: %w", sp.ID, err)
		}
	}

	if p.Scope.Kind() == vectorstore.ScopePersonal {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (session_id, created_at, expires_at)
			VALUES (?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET expires_at = excluded.expires_at`,
			session, p.CreatedAt.UnixNano(), p.ExpiresAt.UnixNano()); err != nil {
			return fmt.Errorf("saving session %s: %w", session, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing partition %s: %w", p.Scope, err)
	}
	return nil
}

// DeleteSession removes a session and its passages.
func (s *SQLite) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM passages WHERE scope = 'personal' AND session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session passages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return tx.Commit()
}

// SaveDimension records the embedding dimension.
func (s *SQLite) SaveDimension(ctx context.Context, dim int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaDimension, strconv.Itoa(dim))
	if err != nil {
		return fmt.Errorf("saving dimension: %w", err)
	}
	return nil
}

// Load reads every partition. Passage order within a partition is the order
// in which they were saved.
func (s *SQLite) Load(ctx context.Context) (*vectorstore.Snapshot, error) {
	snap := &vectorstore.Snapshot{}

	var dimValue string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaDimension).Scan(&dimValue)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("reading dimension: %w", err)
	default:
		if snap.Dimension, err = strconv.Atoi(dimValue); err != nil {
			return nil, fmt.Errorf("parsing dimension %q: %w", dimValue, err)
		}
	}

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT passage_id, scope, session_id, document_id, seq,
		content, metadata, embedding, model_id
		FROM passages ORDER BY scope, session_id, position`)
	if err != nil {
		return nil, fmt.Errorf("querying passages: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var (
			sp       vectorstore.StoredPassage
			kindName string
			session  string
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&sp.ID, &kindName, &session, &sp.DocumentID, &sp.Seq,
			&sp.Content, &metaJSON, &blob, &sp.ModelID); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &sp.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", sp.ID, err)
		}
		sp.Vector = bytesToFloat32Slice(blob)

		kind, err := vectorstore.ParseScopeKind(kindName)
		if err != nil {
			s.logger.Warn(ctx, "skipping passage with unknown scope",
				zap.String("passage_id", sp.ID), zap.String("scope", kindName))
			continue
		}
		scope, err := vectorstore.ScopeFor(kind, session)
		if err != nil {
			s.logger.Warn(ctx, "skipping passage with invalid scope",
				zap.String("passage_id", sp.ID), zap.Error(err))
			continue
		}

		key := scope.String()
		i, ok := index[key]
		if !ok {
			part := vectorstore.PartitionSnapshot{Scope: scope}
			if lt, found := sessions[session]; found && kind == vectorstore.ScopePersonal {
				part.CreatedAt, part.ExpiresAt = lt.created, lt.expires
				delete(sessions, session)
			}
			snap.Partitions = append(snap.Partitions, part)
			i = len(snap.Partitions) - 1
			index[key] = i
		}
		snap.Partitions[i].Passages = append(snap.Partitions[i].Passages, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passages: %w", err)
	}

	// Sessions whose partitions are empty still carry a lifetime.
	for id, lt := range sessions {
		scope, err := vectorstore.Personal(id)
		if err != nil {
			continue
		}
		snap.Partitions = append(snap.Partitions, vectorstore.PartitionSnapshot{
			Scope: scope, CreatedAt: lt.created, ExpiresAt: lt.expires,
		})
	}

	return snap, nil
}

type lifetime struct {
	created, expires time.Time
}

func (s *SQLite) loadSessions(ctx context.Context) (map[string]lifetime, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, created_at, expires_at FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]lifetime)
	for rows.Next() {
		var id string
		var created, expires int64
		if err := rows.Scan(&id, &created, &expires); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out[id] = lifetime{created: time.Unix(0, created).UTC(), expires: time.Unix(0, expires).UTC()}
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
