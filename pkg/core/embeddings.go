package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/liliang-cn/sqatom/internal/encoding"
	"github.com/liliang-cn/sqatom/pkg/project"
)

// PutEmbedding stores one (atom, model) embedding row: the projected spatial
// key in the indexed columns and the full-precision vector compressed at
// rest. Upsert semantics keep chunk resumption idempotent.
func (s *SQLiteStore) PutEmbedding(ctx context.Context, emb *Embedding) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("put_embedding", ErrStoreClosed)
	}

	if err := s.putEmbedding(ctx, s.db, emb); err != nil {
		return wrapError("put_embedding", classifyConflict(err))
	}
	return nil
}

// PutEmbeddingTx is PutEmbedding inside a caller-owned transaction.
func (s *SQLiteStore) PutEmbeddingTx(ctx context.Context, tx *sql.Tx, emb *Embedding) error {
	return s.putEmbedding(ctx, tx, emb)
}

func (s *SQLiteStore) putEmbedding(ctx context.Context, q dbExecer, emb *Embedding) error {
	if err := encoding.ValidateVector(emb.Vector); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVector, err)
	}

	raw, err := encoding.EncodeVector(emb.Vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	query := `
	INSERT INTO embeddings (atom_id, model_id, sx, sy, sz, raw_vector)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(atom_id, model_id) DO UPDATE SET
		sx = excluded.sx, sy = excluded.sy, sz = excluded.sz,
		raw_vector = excluded.raw_vector
	`

	_, err = q.ExecContext(ctx, query,
		emb.AtomID, emb.ModelID, emb.Key.X, emb.Key.Y, emb.Key.Z,
		encoding.CompressBlob(raw))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	return nil
}

// GetEmbedding fetches one (atom, model) embedding.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, atomID, modelID int64) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get_embedding", ErrStoreClosed)
	}

	query := `
	SELECT atom_id, model_id, sx, sy, sz, raw_vector
	FROM embeddings WHERE atom_id = ? AND model_id = ?
	`

	var emb Embedding
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, atomID, modelID).Scan(
		&emb.AtomID, &emb.ModelID, &emb.Key.X, &emb.Key.Y, &emb.Key.Z, &blob)
	if err == sql.ErrNoRows {
		return nil, wrapError("get_embedding", fmt.Errorf("embedding (%d,%d): %w", atomID, modelID, ErrNotFound))
	}
	if err != nil {
		return nil, wrapError("get_embedding", err)
	}

	if emb.Vector, err = decodeVectorBlob(blob); err != nil {
		return nil, wrapError("get_embedding", err)
	}

	return &emb, nil
}

// candidate is an embedding row pulled by the spatial filter, before exact
// re-ranking.
type candidate struct {
	atomID int64
	vector []float32
}

// spatialCandidates runs a bounding-box range query over the spatial key
// index, scoped to one model.
func (s *SQLiteStore) spatialCandidates(ctx context.Context, modelID int64, center project.Point, radius float64) ([]candidate, error) {
	query := `
	SELECT atom_id, raw_vector FROM embeddings
	WHERE model_id = ?
	  AND sx BETWEEN ? AND ?
	  AND sy BETWEEN ? AND ?
	  AND sz BETWEEN ? AND ?
	`

	rows, err := s.db.QueryContext(ctx, query, modelID,
		center.X-radius, center.X+radius,
		center.Y-radius, center.Y+radius,
		center.Z-radius, center.Z+radius)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// linearCandidates is the bounded fallback scan used when the box query
// returns nothing.
func (s *SQLiteStore) linearCandidates(ctx context.Context, modelID int64, limit int) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT atom_id, raw_vector FROM embeddings WHERE model_id = ? LIMIT ?`,
		modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCandidates(rows)
}

func scanCandidates(rows *sql.Rows) ([]candidate, error) {
	var out []candidate
	for rows.Next() {
		var c candidate
		var blob []byte
		if err := rows.Scan(&c.atomID, &blob); err != nil {
			return nil, err
		}

		vec, err := decodeVectorBlob(blob)
		if err != nil {
			return nil, err
		}
		c.vector = vec
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeVectorBlob(blob []byte) ([]float32, error) {
	raw, err := encoding.DecompressBlob(blob)
	if err != nil {
		return nil, err
	}
	return encoding.DecodeVector(raw)
}
