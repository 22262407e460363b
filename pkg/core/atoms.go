package core

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
)

// HashContent returns the content digest used for atom addressing. Callers
// must canonicalize value bytes first so value-equal atoms hash equal.
func HashContent(canonical []byte) []byte {
	sum := sha256.Sum256(canonical)
	return sum[:]
}

// dbExecer covers both *sql.DB and *sql.Tx so atom operations can run
// standalone or inside a chunk transaction.
type dbExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetOrCreateAtom deduplicates canonical bytes into a single atom row. On
// first occurrence it inserts with ref_count 1; on every later occurrence it
// atomically increments ref_count and returns the existing id. The unique
// constraint on content_hash plus the conflict clause make this safe under
// concurrent identical inserts without any application-level locking.
//
// Runs in its own transaction: an oversized payload writes a parent row plus
// spill edges, and a reader must never observe the parent without its edges.
func (s *SQLiteStore) GetOrCreateAtom(ctx context.Context, modality, subtype string, canonical []byte) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, wrapError("get_or_create", ErrStoreClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapError("get_or_create", classifyConflict(err))
	}

	id, err := s.getOrCreateAtom(ctx, tx, modality, subtype, canonical)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return 0, wrapError("get_or_create", classifyConflict(err))
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapError("get_or_create", classifyConflict(err))
	}
	return id, nil
}

// GetOrCreateAtomTx is GetOrCreateAtom inside a caller-owned transaction, so
// a rolled-back chunk also rolls back its reference counts.
func (s *SQLiteStore) GetOrCreateAtomTx(ctx context.Context, tx *sql.Tx, modality, subtype string, canonical []byte) (int64, error) {
	return s.getOrCreateAtom(ctx, tx, modality, subtype, canonical)
}

func (s *SQLiteStore) getOrCreateAtom(ctx context.Context, q dbExecer, modality, subtype string, canonical []byte) (int64, error) {
	if len(canonical) > s.config.InlineLimit {
		return s.spillOversized(ctx, q, modality, subtype, canonical)
	}

	query := `
	INSERT INTO atoms (modality, subtype, content_hash, inline_value, ref_count)
	VALUES (?, ?, ?, ?, 1)
	ON CONFLICT(content_hash) DO UPDATE SET ref_count = ref_count + 1
	RETURNING id
	`

	var id int64
	if err := q.QueryRowContext(ctx, query, modality, subtype, HashContent(canonical), canonical).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert atom: %w", err)
	}

	return id, nil
}

// spillOversized stores a payload larger than the inline limit as a composite
// whose components are inline-sized slices. The parent is still addressed by
// the hash of the full payload, so dedup and reconstruction behave exactly as
// for inline atoms. Slices are written only on first insert; a ref_count above
// 1 after the upsert means the edges already exist.
func (s *SQLiteStore) spillOversized(ctx context.Context, q dbExecer, modality, subtype string, canonical []byte) (int64, error) {
	query := `
	INSERT INTO atoms (modality, subtype, content_hash, inline_value, ref_count)
	VALUES (?, ?, ?, NULL, 1)
	ON CONFLICT(content_hash) DO UPDATE SET ref_count = ref_count + 1
	RETURNING id, ref_count
	`

	var id, refCount int64
	if err := q.QueryRowContext(ctx, query, modality, subtype, HashContent(canonical)).Scan(&id, &refCount); err != nil {
		return 0, fmt.Errorf("failed to upsert oversized atom: %w", err)
	}
	if refCount > 1 {
		return id, nil
	}

	limit := s.config.InlineLimit
	for seq, off := uint64(0), 0; off < len(canonical); seq, off = seq+1, off+limit {
		end := off + limit
		if end > len(canonical) {
			end = len(canonical)
		}
		slice := canonical[off:end]

		childID, err := s.getOrCreateAtom(ctx, q, modality, subtype, slice)
		if err != nil {
			return 0, err
		}

		_, err = q.ExecContext(ctx,
			`INSERT INTO compositions (parent_id, component_id, seq, structural_key) VALUES (?, ?, ?, ?)`,
			id, childID, seq, StructuralKey(seq, HashContent(slice)))
		if err != nil {
			return 0, fmt.Errorf("failed to insert spill edge: %w", err)
		}
	}

	return id, nil
}

// CreateCompositeAtom creates a parent atom with no inline value. The
// fingerprint stands in for content that is not known up front (the object is
// about to be decomposed); distinct fingerprints produce distinct parents.
func (s *SQLiteStore) CreateCompositeAtom(ctx context.Context, modality, subtype string, fingerprint []byte) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, wrapError("create_composite", ErrStoreClosed)
	}

	id, err := s.createCompositeAtom(ctx, s.db, modality, subtype, fingerprint)
	if err != nil {
		return 0, wrapError("create_composite", classifyConflict(err))
	}
	return id, nil
}

// CreateCompositeAtomTx is CreateCompositeAtom inside a caller-owned
// transaction.
func (s *SQLiteStore) CreateCompositeAtomTx(ctx context.Context, tx *sql.Tx, modality, subtype string, fingerprint []byte) (int64, error) {
	return s.createCompositeAtom(ctx, tx, modality, subtype, fingerprint)
}

func (s *SQLiteStore) createCompositeAtom(ctx context.Context, q dbExecer, modality, subtype string, fingerprint []byte) (int64, error) {
	hash := HashContent(fingerprint)

	query := `
	INSERT INTO atoms (modality, subtype, content_hash, inline_value, ref_count)
	VALUES (?, ?, ?, NULL, 1)
	ON CONFLICT(content_hash) DO UPDATE SET ref_count = ref_count + 1
	RETURNING id
	`

	var id int64
	if err := q.QueryRowContext(ctx, query, modality, subtype, hash).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create composite atom: %w", err)
	}

	return id, nil
}

// SealEmptyAtom marks a composite atom as a completed empty object by giving
// it a zero-length inline value, so reconstruction yields zero bytes instead
// of reporting a broken chain. Guarded: a parent that already has inline
// bytes or composition edges is left untouched.
func (s *SQLiteStore) SealEmptyAtom(ctx context.Context, id int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("seal_empty", ErrStoreClosed)
	}

	_, err := s.db.ExecContext(ctx, `
	UPDATE atoms SET inline_value = x''
	WHERE id = ? AND inline_value IS NULL
	  AND NOT EXISTS (SELECT 1 FROM compositions WHERE parent_id = atoms.id)`,
		id)
	if err != nil {
		return wrapError("seal_empty", classifyConflict(err))
	}

	return nil
}

// GetAtom fetches an atom by id.
func (s *SQLiteStore) GetAtom(ctx context.Context, id int64) (*Atom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get_atom", ErrStoreClosed)
	}

	query := `
	SELECT id, modality, subtype, content_hash, inline_value, ref_count, created_at
	FROM atoms WHERE id = ?
	`

	var a Atom
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Modality, &a.Subtype, &a.ContentHash, &a.InlineValue, &a.RefCount, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, wrapError("get_atom", fmt.Errorf("atom %d: %w", id, ErrNotFound))
	}
	if err != nil {
		return nil, wrapError("get_atom", err)
	}

	return &a, nil
}

// ReleaseAtom decrements an atom's reference count. Reaching zero marks the
// row collectible; actual deletion is left to an external GC sweep. The
// decrement is a single atomic statement, never a read-modify-write.
func (s *SQLiteStore) ReleaseAtom(ctx context.Context, id int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("release", ErrStoreClosed)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE atoms SET ref_count = MAX(ref_count - 1, 0) WHERE id = ?`, id)
	if err != nil {
		return wrapError("release", classifyConflict(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapError("release", err)
	}
	if affected == 0 {
		return wrapError("release", fmt.Errorf("atom %d: %w", id, ErrNotFound))
	}

	return nil
}

// CollectibleAtoms returns ids whose reference count has dropped to zero,
// for an external GC sweep to consume.
func (s *SQLiteStore) CollectibleAtoms(ctx context.Context, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("collectible", ErrStoreClosed)
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM atoms WHERE ref_count = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, wrapError("collectible", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapError("collectible", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
