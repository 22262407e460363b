// Package sqatom provides the embedded-engine entry point: one handle that
// bundles the content-addressed atom store, governed ingestion and spatial
// similarity search.
package sqatom

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"github.com/liliang-cn/sqatom/pkg/core"
	"github.com/liliang-cn/sqatom/pkg/ingest"
)

// Config represents engine configuration.
type Config struct {
	Path        string      // Database file path
	InlineLimit int         // Max inline atom payload in bytes (0 = default)
	Workers     int         // Parallel jobs for RunJobs (0 = unbounded)
	Logger      core.Logger // Optional logger
}

// DefaultConfig returns default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		InlineLimit: core.DefaultConfig().InlineLimit,
	}
}

// Engine is an open database instance.
type Engine struct {
	store *core.SQLiteStore
	coord *ingest.Coordinator
	mgr   *ingest.Manager
}

// Option is a functional option for configuring the Engine.
type Option func(*engineOptions)

type engineOptions struct {
	opener    ingest.SourceOpener
	chunkRate *rate.Limiter
}

// WithSourceOpener overrides how job source URIs are resolved to bytes.
func WithSourceOpener(o ingest.SourceOpener) Option {
	return func(eo *engineOptions) { eo.opener = o }
}

// WithChunkRate throttles chunk processing across all jobs on this engine.
// Nil means unthrottled.
func WithChunkRate(l *rate.Limiter) Option {
	return func(eo *engineOptions) { eo.chunkRate = l }
}

// Open opens or creates an engine.
func Open(config Config, opts ...Option) (*Engine, error) {
	var eo engineOptions
	for _, opt := range opts {
		opt(&eo)
	}

	coreConfig := core.DefaultConfig()
	coreConfig.Path = config.Path
	if config.InlineLimit > 0 {
		coreConfig.InlineLimit = config.InlineLimit
	}
	if config.Logger != nil {
		coreConfig.Logger = config.Logger
	}

	store, err := core.NewWithConfig(coreConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	coord := ingest.NewCoordinator(store, ingest.Options{
		Opener:    eo.opener,
		ChunkRate: eo.chunkRate,
	})

	return &Engine{
		store: store,
		coord: coord,
		mgr:   ingest.NewManager(coord, config.Workers),
	}, nil
}

// Store returns the underlying atom store.
func (e *Engine) Store() *core.SQLiteStore { return e.store }

// SubmitIngestionJob creates a Pending job and returns its id.
func (e *Engine) SubmitIngestionJob(ctx context.Context, opts ingest.SubmitOptions) (string, error) {
	job, err := e.coord.Submit(ctx, opts)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// StepJob advances a job by at most one chunk and returns its state.
// Idempotent: stepping a terminal job is a no-op.
func (e *Engine) StepJob(ctx context.Context, jobID string) (*core.Job, error) {
	return e.coord.Step(ctx, jobID)
}

// RunJob steps a job until it reaches a terminal status.
func (e *Engine) RunJob(ctx context.Context, jobID string) (*core.Job, error) {
	return e.coord.Run(ctx, jobID)
}

// RunJobs runs several jobs in parallel, one worker per job.
func (e *Engine) RunJobs(ctx context.Context, jobIDs []string) ([]*core.Job, error) {
	return e.mgr.RunAll(ctx, jobIDs)
}

// Job returns the persisted state of a job.
func (e *Engine) Job(ctx context.Context, jobID string) (*core.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// Reconstruct streams the original bytes of an ingested object to w.
func (e *Engine) Reconstruct(ctx context.Context, parentAtomID int64, w io.Writer) error {
	return e.store.Reconstruct(ctx, parentAtomID, w)
}

// ReconstructBytes is Reconstruct into memory.
func (e *Engine) ReconstructBytes(ctx context.Context, parentAtomID int64) ([]byte, error) {
	return e.store.ReconstructBytes(ctx, parentAtomID)
}

// Search returns the k atoms nearest to query under the given model,
// ranked by exact distance ascending.
func (e *Engine) Search(ctx context.Context, query []float32, modelID int64, k int) ([]core.ScoredAtom, error) {
	return e.store.Search(ctx, query, modelID, k)
}

// Close closes the engine.
func (e *Engine) Close() error {
	return e.store.Close()
}
