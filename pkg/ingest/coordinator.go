// Package ingest drives governed ingestion: chunked, quota-bounded,
// resumable decomposition of large objects into deduplicated atoms.
//
// A job's cursor is strictly sequential and every chunk commits inside one
// short transaction, so processing can be interrupted anywhere and resumed
// from the last committed cursor with no partial chunk ever visible.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/time/rate"

	"github.com/liliang-cn/sqatom/pkg/core"
	"github.com/liliang-cn/sqatom/pkg/decode"
)

// SourceOpener resolves a job's source URI to a readable byte source. Jobs
// survive process restarts; the opener is how a resumed job finds its bytes
// again.
type SourceOpener interface {
	Open(ctx context.Context, job *core.Job) (decode.Source, error)
}

// FileOpener opens job source URIs as local file paths.
type FileOpener struct{}

func (FileOpener) Open(_ context.Context, job *core.Job) (decode.Source, error) {
	return decode.OpenFile(job.SourceURI)
}

// Options configures a Coordinator.
type Options struct {
	// Opener resolves job sources. Defaults to FileOpener.
	Opener SourceOpener

	// MaxRetries bounds automatic retries of a chunk on transient store
	// conflicts before the job is marked Failed.
	MaxRetries int

	// ChunkRate optionally throttles chunk processing across the whole
	// coordinator. Nil means unthrottled.
	ChunkRate *rate.Limiter

	// Logger receives coordinator diagnostics. Defaults to the store's.
	Logger core.Logger
}

// Coordinator executes ingestion jobs against a store. A single job is only
// ever processed by one worker at a time; per-job locks enforce that even if
// callers race Step on the same id.
type Coordinator struct {
	store      *core.SQLiteStore
	opener     SourceOpener
	maxRetries int
	limiter    *rate.Limiter
	logger     core.Logger

	mu       sync.Mutex
	jobLocks map[string]*sync.Mutex
}

// NewCoordinator creates a coordinator on top of a store.
func NewCoordinator(store *core.SQLiteStore, opts Options) *Coordinator {
	if opts.Opener == nil {
		opts.Opener = FileOpener{}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Logger == nil {
		opts.Logger = store.Logger()
	}

	return &Coordinator{
		store:      store,
		opener:     opts.Opener,
		maxRetries: opts.MaxRetries,
		limiter:    opts.ChunkRate,
		logger:     opts.Logger,
		jobLocks:   make(map[string]*sync.Mutex),
	}
}

// SubmitOptions describes a new ingestion job.
type SubmitOptions struct {
	SourceURI string
	Modality  string
	Subtype   string
	ChunkSize uint64
	UnitQuota uint64 // 0 = unlimited
	ModelID   int64  // 0 disables embedding writes

	// Fingerprint uniquely identifies the parent composite atom. Empty
	// means a fresh random fingerprint, i.e. a brand-new parent per submit.
	Fingerprint []byte

	// ParentID reuses an existing composite atom instead of creating one.
	ParentID int64
}

// Submit validates the modality, creates the parent composite atom when
// needed, and persists a Pending job. Returns the job id.
func (c *Coordinator) Submit(ctx context.Context, opts SubmitOptions) (*core.Job, error) {
	if _, err := decode.For(opts.Modality, opts.Subtype); err != nil {
		return nil, err
	}
	if opts.ChunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be positive: %w", core.ErrInvalidConfig)
	}

	job := &core.Job{
		ParentID:  opts.ParentID,
		Modality:  opts.Modality,
		Subtype:   opts.Subtype,
		SourceURI: opts.SourceURI,
		ModelID:   opts.ModelID,
		ChunkSize: opts.ChunkSize,
		UnitQuota: opts.UnitQuota,
	}

	err := c.store.RunInTx(ctx, func(tx *sql.Tx) error {
		if job.ParentID == 0 {
			fp := opts.Fingerprint
			if len(fp) == 0 {
				fp = randomFingerprint()
			}
			id, err := c.store.CreateCompositeAtomTx(ctx, tx, opts.Modality, opts.Subtype, fp)
			if err != nil {
				return err
			}
			job.ParentID = id
		}
		return c.store.CreateJobTx(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("job submitted",
		"job_id", job.ID, "parent_id", job.ParentID,
		"modality", job.Modality, "chunk_size", job.ChunkSize, "quota", job.UnitQuota)
	return job, nil
}

// Step advances a job by at most one chunk. Calling Step on a terminal job
// is a no-op that returns the current state, which makes the operation
// idempotent and safe to drive from retries or queues.
func (c *Coordinator) Step(ctx context.Context, jobID string) (*core.Job, error) {
	lock := c.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return job, err
		}
	}

	decoder, err := decode.For(job.Modality, job.Subtype)
	if err != nil {
		return c.fail(ctx, job, "internal", err)
	}

	src, err := c.opener.Open(ctx, job)
	if err != nil {
		return c.fail(ctx, job, "source", err)
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	return c.stepChunk(ctx, job, decoder, src)
}

// stepChunk runs one chunk: quota clamp, window decode, dedup, compose,
// embed, cursor advance — all inside one transaction.
func (c *Coordinator) stepChunk(ctx context.Context, job *core.Job, decoder decode.Decoder, src decode.Source) (*core.Job, error) {
	window := job.ChunkSize
	quotaClamped := false
	if job.UnitQuota > 0 {
		remaining := job.UnitQuota - job.UnitsProcessed
		if remaining == 0 {
			return c.fail(ctx, job, "quota_exceeded",
				fmt.Errorf("%w: quota %d reached at cursor %d", core.ErrQuotaExceeded, job.UnitQuota, job.Cursor))
		}
		if remaining < window {
			window = remaining
			quotaClamped = true
		}
	}

	// One unit of lookahead past a clamped window distinguishes "source
	// fits exactly in the remaining quota" from "quota would be exceeded".
	request := window
	if quotaClamped {
		request = window + 1
	}

	units, err := decoder.Decode(ctx, src, job.Cursor, request)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return job, err
		}
		return c.fail(ctx, job, "decode", err)
	}

	if len(units) == 0 {
		return c.complete(ctx, job)
	}

	// A short window anywhere before the known end of the source means the
	// decoder silently truncated; reconstruction would be broken.
	if total, ok := decoder.Total(src); ok {
		expected := request
		if job.Cursor+expected > total {
			expected = total - job.Cursor
		}
		if uint64(len(units)) < expected {
			return c.fail(ctx, job, "decoder_exhaustion",
				fmt.Errorf("%w: got %d units at cursor %d, source geometry requires %d",
					core.ErrDecoderExhaustion, len(units), job.Cursor, expected))
		}
	}

	overflow := uint64(len(units)) > window
	if overflow {
		units = units[:window]
	}

	if err := c.commitChunk(ctx, job, units); err != nil {
		if errors.Is(err, core.ErrDuplicateSequence) {
			return c.fail(ctx, job, "duplicate_sequence", err)
		}
		if errors.Is(err, core.ErrTransientConflict) {
			return c.fail(ctx, job, "transient_conflict", err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The chunk rolled back cleanly; the job stays resumable.
			return job, err
		}
		return c.fail(ctx, job, "chunk", err)
	}

	job.Cursor += uint64(len(units))
	job.UnitsProcessed += uint64(len(units))
	job.Status = core.JobProcessing

	if overflow {
		return c.fail(ctx, job, "quota_exceeded",
			fmt.Errorf("%w: quota %d exhausted with source remaining", core.ErrQuotaExceeded, job.UnitQuota))
	}

	if uint64(len(units)) < request {
		return c.complete(ctx, job)
	}
	if total, ok := decoder.Total(src); ok && job.Cursor >= total {
		return c.complete(ctx, job)
	}

	c.logger.Debug("chunk committed",
		"job_id", job.ID, "cursor", job.Cursor, "units", job.UnitsProcessed)
	return job, nil
}

// commitChunk writes one chunk transactionally, retrying the whole chunk a
// bounded number of times on transient store conflicts.
func (c *Coordinator) commitChunk(ctx context.Context, job *core.Job, units []decode.Unit) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		lastErr = c.store.RunInTx(ctx, func(tx *sql.Tx) error {
			refs := make([]core.ComponentRef, 0, len(units))
			for _, unit := range units {
				atomID, err := c.store.GetOrCreateAtomTx(ctx, tx, job.Modality, job.Subtype, unit.Value)
				if err != nil {
					return err
				}
				refs = append(refs, core.ComponentRef{
					Seq:           unit.Pos,
					AtomID:        atomID,
					StructuralKey: core.StructuralKey(unit.Pos, core.HashContent(unit.Value)),
				})

				if job.ModelID != 0 && unit.Vector != nil {
					if err := c.putUnitEmbedding(ctx, tx, job, atomID, unit.Vector); err != nil {
						return err
					}
				}
			}

			if err := c.store.AppendComponentsTx(ctx, tx, job.ParentID, refs); err != nil {
				return err
			}

			return c.store.AdvanceJobTx(ctx, tx, job.ID,
				job.Cursor+uint64(len(units)), job.UnitsProcessed+uint64(len(units)))
		})

		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, core.ErrTransientConflict) {
			return lastErr
		}
		c.logger.Warn("chunk hit transient conflict, retrying",
			"job_id", job.ID, "attempt", attempt+1, "max", c.maxRetries)
	}

	return lastErr
}

func (c *Coordinator) putUnitEmbedding(ctx context.Context, tx *sql.Tx, job *core.Job, atomID int64, vec []float32) error {
	proj, err := c.store.ProjectorFor(job.ModelID, len(vec))
	if err != nil {
		return err
	}

	point, err := proj.Project(vec)
	if err != nil {
		return err
	}

	return c.store.PutEmbeddingTx(ctx, tx, &core.Embedding{
		AtomID:  atomID,
		ModelID: job.ModelID,
		Key:     point,
		Vector:  vec,
	})
}

// Run steps a job until it reaches a terminal status. Cancellation is
// cooperative: the context is checked between chunks, and an in-progress
// chunk always finishes commit-or-rollback first.
func (c *Coordinator) Run(ctx context.Context, jobID string) (*core.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			// Report the state the job was left in; the context that
			// stopped the run cannot be used for the lookup itself.
			job, getErr := c.store.GetJob(context.WithoutCancel(ctx), jobID)
			if getErr != nil {
				return nil, getErr
			}
			return job, err
		}

		job, err := c.Step(ctx, jobID)
		if err != nil {
			return job, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
	}
}

// fail transitions the job to Failed with a taxonomy-tagged message. The
// chunk that caused the failure has already rolled back, so the cursor still
// points at the last committed position.
func (c *Coordinator) fail(ctx context.Context, job *core.Job, tag string, cause error) (*core.Job, error) {
	msg := fmt.Sprintf("%s: %v", tag, cause)
	if err := c.store.SetJobStatus(ctx, job.ID, core.JobFailed, msg); err != nil {
		return job, err
	}

	c.logger.Error("job failed", "job_id", job.ID, "tag", tag, "error", cause)

	job.Status = core.JobFailed
	job.Error = msg
	return job, nil
}

func (c *Coordinator) complete(ctx context.Context, job *core.Job) (*core.Job, error) {
	// A source with no units at all is a valid empty object: seal the parent
	// so it reconstructs to zero bytes rather than reading as a broken chain.
	if job.UnitsProcessed == 0 {
		if err := c.store.SealEmptyAtom(ctx, job.ParentID); err != nil {
			return job, err
		}
	}

	if err := c.store.SetJobStatus(ctx, job.ID, core.JobComplete, ""); err != nil {
		return job, err
	}

	c.logger.Info("job complete",
		"job_id", job.ID, "units_processed", job.UnitsProcessed, "cursor", job.Cursor)

	job.Status = core.JobComplete
	job.Error = ""
	return job, nil
}

func (c *Coordinator) lockFor(jobID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		c.jobLocks[jobID] = lock
	}
	return lock
}
