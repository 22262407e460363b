package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/liliang-cn/sqatom/internal/encoding"
	"github.com/liliang-cn/sqatom/pkg/project"
)

// Search finds the k atoms nearest to query under the given model. The query
// is projected to its spatial key, a bounding-box range query collects a
// candidate superset, and candidates are re-ranked by exact Euclidean
// distance over their full-precision vectors. Results are eventually
// consistent with ingestion: an uncommitted in-flight chunk is invisible.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, modelID int64, k int) ([]ScoredAtom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("search", ErrStoreClosed)
	}
	if k <= 0 {
		return nil, wrapError("search", fmt.Errorf("k must be positive: %w", ErrInvalidConfig))
	}
	if err := encoding.ValidateVector(query); err != nil {
		return nil, wrapError("search", fmt.Errorf("%w: %v", ErrInvalidVector, err))
	}

	proj, err := s.ProjectorFor(modelID, len(query))
	if err != nil {
		return nil, wrapError("search", err)
	}

	center, err := proj.Project(query)
	if err != nil {
		return nil, wrapError("search", err)
	}

	candidates, err := s.spatialCandidates(ctx, modelID, center, s.config.SearchRadius)
	if err != nil {
		return nil, wrapError("search", classifyConflict(err))
	}

	if len(candidates) == 0 {
		s.logger.Debug("spatial filter empty, falling back to linear scan",
			"model_id", modelID, "max_scan", s.config.MaxLinearScan)
		candidates, err = s.linearCandidates(ctx, modelID, s.config.MaxLinearScan)
		if err != nil {
			return nil, wrapError("search", classifyConflict(err))
		}
	}

	if len(candidates) == 0 {
		return nil, wrapError("search", fmt.Errorf("model %d: %w", modelID, ErrNoCandidates))
	}

	results := make([]ScoredAtom, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, ScoredAtom{
			AtomID:   c.atomID,
			Distance: project.Distance(query, c.vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].AtomID < results[j].AtomID
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}
