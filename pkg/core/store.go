// Package core implements the content-addressed atom store on SQLite:
// reference-counted deduplication, the composition graph, spatial embedding
// keys and ingestion job state. The store assumes nothing beyond what SQLite
// provides — unique constraints, short ACID transactions and ordinary b-tree
// range scans over the projected key columns.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liliang-cn/sqatom/pkg/project"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements the atom store using SQLite as backend.
type SQLiteStore struct {
	db     *sql.DB
	config Config
	logger Logger

	mu     sync.RWMutex
	closed bool

	projMu     sync.Mutex
	projectors map[projKey]*project.Projector

	reconstructGroup reconstructFlight
}

type projKey struct {
	modelID int64
	dim     int
}

// New creates a new store with default configuration at path.
func New(path string) (*SQLiteStore, error) {
	config := DefaultConfig()
	config.Path = path
	return NewWithConfig(config)
}

// NewWithConfig creates a new store with custom configuration.
func NewWithConfig(config Config) (*SQLiteStore, error) {
	if config.Path == "" {
		return nil, wrapError("init", fmt.Errorf("database path cannot be empty: %w", ErrInvalidConfig))
	}
	if config.InlineLimit <= 0 {
		return nil, wrapError("init", fmt.Errorf("inline limit must be positive: %w", ErrInvalidConfig))
	}
	if config.Logger == nil {
		config.Logger = NopLogger()
	}
	if config.SearchRadius <= 0 {
		config.SearchRadius = DefaultConfig().SearchRadius
	}
	if config.MaxLinearScan <= 0 {
		config.MaxLinearScan = DefaultConfig().MaxLinearScan
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = DefaultConfig().MaxOpenConns
	}

	return &SQLiteStore{
		config:     config,
		logger:     config.Logger,
		projectors: make(map[projKey]*project.Projector),
	}, nil
}

// Init opens the SQLite database and creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	// The _pragma form is applied by the driver on every pooled connection:
	// busy_timeout=5000 waits up to 5s for a lock instead of failing,
	// journal_mode=WAL lets readers run alongside the single writer,
	// synchronous=NORMAL balances safety and speed, and foreign_keys must be
	// set per connection or ON DELETE CASCADE silently stops firing.
	dsn := fmt.Sprintf(
		"%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		s.config.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	if s.config.Path == ":memory:" {
		// Each pooled connection would get its own private database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.config.MaxOpenConns)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(2 * time.Hour)
	}

	s.db = db

	if err := s.createTables(ctx); err != nil {
		return wrapError("init", err)
	}

	s.logger.Info("store initialized", "path", s.config.Path, "inline_limit", s.config.InlineLimit)
	return nil
}

// createTables creates the necessary database tables
func (s *SQLiteStore) createTables(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS atoms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		modality TEXT NOT NULL,
		subtype TEXT NOT NULL DEFAULT '',
		content_hash BLOB NOT NULL UNIQUE,
		inline_value BLOB,
		ref_count INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS compositions (
		parent_id INTEGER NOT NULL REFERENCES atoms(id) ON DELETE CASCADE,
		component_id INTEGER NOT NULL REFERENCES atoms(id),
		seq INTEGER NOT NULL,
		structural_key BLOB,
		PRIMARY KEY (parent_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_compositions_component ON compositions(component_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		atom_id INTEGER NOT NULL REFERENCES atoms(id) ON DELETE CASCADE,
		model_id INTEGER NOT NULL,
		sx REAL NOT NULL,
		sy REAL NOT NULL,
		sz REAL NOT NULL,
		raw_vector BLOB NOT NULL,
		PRIMARY KEY (atom_id, model_id)
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_spatial ON embeddings(model_id, sx, sy, sz);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		parent_id INTEGER NOT NULL REFERENCES atoms(id),
		modality TEXT NOT NULL,
		subtype TEXT NOT NULL DEFAULT '',
		source_uri TEXT NOT NULL DEFAULT '',
		model_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		chunk_size INTEGER NOT NULL,
		cursor INTEGER NOT NULL DEFAULT 0,
		units_processed INTEGER NOT NULL DEFAULT 0,
		unit_quota INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// DB exposes the underlying handle for callers that need raw queries.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Logger returns the store's logger.
func (s *SQLiteStore) Logger() Logger { return s.logger }

// InlineLimit returns the maximum inline payload size in bytes.
func (s *SQLiteStore) InlineLimit() int { return s.config.InlineLimit }

// ProjectorFor returns the deterministic projector for a model and native
// dimension, caching instances.
func (s *SQLiteStore) ProjectorFor(modelID int64, dim int) (*project.Projector, error) {
	s.projMu.Lock()
	defer s.projMu.Unlock()

	key := projKey{modelID: modelID, dim: dim}
	if p, ok := s.projectors[key]; ok {
		return p, nil
	}

	p, err := project.New(modelID, dim)
	if err != nil {
		return nil, err
	}
	s.projectors[key] = p
	return p, nil
}

// RunInTx executes fn inside one transaction. SQLite lock contention is
// surfaced as ErrTransientConflict so callers can retry the whole unit of
// work.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("tx", ErrStoreClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("tx", classifyConflict(err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return classifyConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return wrapError("tx", classifyConflict(err))
	}

	return nil
}

// classifyConflict folds SQLite busy/locked failures into the transient
// conflict sentinel. Everything else passes through unchanged.
func classifyConflict(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%w: %v", ErrTransientConflict, err)
	}
	return err
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure on the named constraint columns.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, constraint)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
