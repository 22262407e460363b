package core

import (
	"time"

	"github.com/liliang-cn/sqatom/pkg/project"
)

// Atom is the smallest content-addressed unit in the store. Identical
// canonical bytes always collapse to one row; RefCount tracks how many
// composition edges and callers hold it.
type Atom struct {
	ID          int64     `json:"id"`
	Modality    string    `json:"modality"`
	Subtype     string    `json:"subtype,omitempty"`
	ContentHash []byte    `json:"content_hash"`
	InlineValue []byte    `json:"inline_value,omitempty"` // nil iff composite
	RefCount    int64     `json:"ref_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Composite reports whether the atom's payload lives in composition edges
// rather than inline.
func (a *Atom) Composite() bool { return a.InlineValue == nil }

// ComponentRef is one edge of a parent's ordered decomposition.
type ComponentRef struct {
	Seq           uint64 `json:"seq"`
	AtomID        int64  `json:"atom_id"`
	StructuralKey []byte `json:"structural_key,omitempty"`
}

// Embedding pairs an atom with one model's vector: the full-precision vector
// for exact ranking plus the projected spatial key used by the range index.
type Embedding struct {
	AtomID  int64         `json:"atom_id"`
	ModelID int64         `json:"model_id"`
	Key     project.Point `json:"key"`
	Vector  []float32     `json:"vector"`
}

// ScoredAtom is a search result ranked by exact distance, ascending.
type ScoredAtom struct {
	AtomID   int64   `json:"atom_id"`
	Distance float64 `json:"distance"`
}

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobComplete   JobStatus = "complete"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// Job is the persisted state of one governed ingestion run. The cursor is a
// unit offset into the source; every successful chunk advances it atomically
// with the chunk's writes, which is what makes jobs resumable.
type Job struct {
	ID             string    `json:"id"`
	ParentID       int64     `json:"parent_id"`
	Modality       string    `json:"modality"`
	Subtype        string    `json:"subtype,omitempty"`
	SourceURI      string    `json:"source_uri,omitempty"`
	ModelID        int64     `json:"model_id,omitempty"` // 0 disables embedding writes
	Status         JobStatus `json:"status"`
	ChunkSize      uint64    `json:"chunk_size"`
	Cursor         uint64    `json:"cursor"`
	UnitsProcessed uint64    `json:"units_processed"`
	UnitQuota      uint64    `json:"unit_quota"` // 0 = unlimited
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
