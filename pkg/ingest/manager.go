package ingest

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/sqatom/pkg/core"
)

// randomFingerprint produces a unique parent identity for submissions that
// do not supply their own.
func randomFingerprint() []byte {
	id := uuid.New()
	return id[:]
}

// Manager runs many independent jobs in parallel. Parallelism is across
// jobs only; each job remains strictly sequential via the coordinator's
// per-job locks.
type Manager struct {
	coord   *Coordinator
	workers int
}

// NewManager creates a manager driving the given coordinator with at most
// workers concurrent jobs. workers <= 0 means unbounded.
func NewManager(coord *Coordinator, workers int) *Manager {
	return &Manager{coord: coord, workers: workers}
}

// RunAll runs every listed job to a terminal status and returns the final
// states in input order. The first infrastructure error cancels the rest;
// per-job ingestion failures land in the job's status instead.
func (m *Manager) RunAll(ctx context.Context, jobIDs []string) ([]*core.Job, error) {
	results := make([]*core.Job, len(jobIDs))

	g, ctx := errgroup.WithContext(ctx)
	if m.workers > 0 {
		g.SetLimit(m.workers)
	}

	for i, id := range jobIDs {
		i, id := i, id
		g.Go(func() error {
			job, err := m.coord.Run(ctx, id)
			results[i] = job
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// ResumePending runs every Pending or Processing job in the store to a
// terminal status, typically after a restart.
func (m *Manager) ResumePending(ctx context.Context) ([]*core.Job, error) {
	var ids []string
	for _, status := range []core.JobStatus{core.JobPending, core.JobProcessing} {
		jobs, err := m.coord.store.ListJobs(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
	}

	return m.RunAll(ctx, ids)
}
