package core

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"
)

// maxCompositionDepth bounds reconstruction recursion. Cycles are forbidden
// by construction (components exist before their parent's edges are written,
// and sequence indexes strictly increase within a pass); the bound is a
// defensive guard against corrupted graphs.
const maxCompositionDepth = 64

type reconstructFlight struct {
	group singleflight.Group
}

// StructuralKey encodes a component's position and value digest as a small
// fixed-size key: three little-endian float32 coordinates derived from the
// sequence index and the first hash bytes. Stored on the edge for
// structure-aware range lookups.
func StructuralKey(seq uint64, contentHash []byte) []byte {
	coords := [3]float32{float32(seq), 0, 0}
	if len(contentHash) >= 8 {
		coords[1] = float32(binary.LittleEndian.Uint32(contentHash[0:4])) / float32(math.MaxUint32)
		coords[2] = float32(binary.LittleEndian.Uint32(contentHash[4:8])) / float32(math.MaxUint32)
	}

	out := make([]byte, 12)
	for i, c := range coords {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(c))
	}
	return out
}

// AppendComponentsTx inserts a batch of composition edges for parentID as one
// set-oriented statement inside the caller's transaction. A collision on
// (parent, seq) is reported as ErrDuplicateSequence: resumption always starts
// strictly past the last committed sequence index, so a collision means the
// caller's cursor went backwards.
func (s *SQLiteStore) AppendComponentsTx(ctx context.Context, tx *sql.Tx, parentID int64, refs []ComponentRef) error {
	// SQLite caps bind variables per statement, so large chunks insert in
	// slices of insertBatchRows rows. Still one transaction, still ordered.
	const insertBatchRows = 500

	for start := 0; start < len(refs); start += insertBatchRows {
		end := start + insertBatchRows
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO compositions (parent_id, component_id, seq, structural_key) VALUES ")
		args := make([]any, 0, len(batch)*4)
		for i, ref := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?)")
			args = append(args, parentID, ref.AtomID, ref.Seq, ref.StructuralKey)
		}

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			if isUniqueViolation(err, "compositions.parent_id") {
				return fmt.Errorf("parent %d: %w: %v", parentID, ErrDuplicateSequence, err)
			}
			return fmt.Errorf("failed to insert composition edges: %w", err)
		}
	}

	return nil
}

// ComponentsOf returns the ordered component refs of a parent.
func (s *SQLiteStore) ComponentsOf(ctx context.Context, parentID int64) ([]ComponentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("components_of", ErrStoreClosed)
	}

	return s.componentsOf(ctx, parentID)
}

func (s *SQLiteStore) componentsOf(ctx context.Context, parentID int64) ([]ComponentRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, component_id, structural_key FROM compositions WHERE parent_id = ? ORDER BY seq`,
		parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []ComponentRef
	for rows.Next() {
		var ref ComponentRef
		if err := rows.Scan(&ref.Seq, &ref.AtomID, &ref.StructuralKey); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// MaxSequence returns the highest committed sequence index for a parent, or
// ok=false when the parent has no edges yet.
func (s *SQLiteStore) MaxSequence(ctx context.Context, parentID int64) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, false, wrapError("max_sequence", ErrStoreClosed)
	}

	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM compositions WHERE parent_id = ?`, parentID).Scan(&seq)
	if err != nil {
		return 0, false, wrapError("max_sequence", err)
	}
	if !seq.Valid {
		return 0, false, nil
	}

	return uint64(seq.Int64), true, nil
}

// Reconstruct streams the original bytes of an atom to w: inline atoms write
// their value, composite atoms resolve their edges in sequence order and
// recurse. The result is bit-identical to the ingested object. Failures here
// are fatal and non-retryable — a missing component or an empty composite
// means the store is corrupt.
func (s *SQLiteStore) Reconstruct(ctx context.Context, atomID int64, w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("reconstruct", ErrStoreClosed)
	}

	if err := s.reconstruct(ctx, atomID, w, 0); err != nil {
		return wrapError("reconstruct", err)
	}
	return nil
}

// ReconstructBytes is Reconstruct into memory. Concurrent calls for the same
// atom are collapsed into a single resolution; callers must not mutate the
// returned slice.
func (s *SQLiteStore) ReconstructBytes(ctx context.Context, atomID int64) ([]byte, error) {
	v, err, _ := s.reconstructGroup.group.Do(strconv.FormatInt(atomID, 10), func() (any, error) {
		var buf bytes.Buffer
		if err := s.Reconstruct(ctx, atomID, &buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *SQLiteStore) reconstruct(ctx context.Context, atomID int64, w io.Writer, depth int) error {
	if depth > maxCompositionDepth {
		return fmt.Errorf("atom %d: composition depth exceeds %d: %w", atomID, maxCompositionDepth, ErrCorruptComposition)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var inline []byte
	var hasInline bool
	err := s.db.QueryRowContext(ctx,
		`SELECT inline_value, inline_value IS NOT NULL FROM atoms WHERE id = ?`, atomID).
		Scan(&inline, &hasInline)
	if err == sql.ErrNoRows {
		return fmt.Errorf("atom %d missing: %w", atomID, ErrCorruptComposition)
	}
	if err != nil {
		return err
	}

	if hasInline {
		_, err := w.Write(inline)
		return err
	}

	refs, err := s.componentsOf(ctx, atomID)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("composite atom %d has no components: %w", atomID, ErrCorruptComposition)
	}

	for _, ref := range refs {
		if err := s.reconstruct(ctx, ref.AtomID, w, depth+1); err != nil {
			return err
		}
	}

	return nil
}
