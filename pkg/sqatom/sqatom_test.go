package sqatom

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/sqatom/internal/encoding"
	"github.com/liliang-cn/sqatom/pkg/core"
	"github.com/liliang-cn/sqatom/pkg/decode"
	"github.com/liliang-cn/sqatom/pkg/ingest"
)

type memOpener map[string][]byte

func (m memOpener) Open(_ context.Context, job *core.Job) (decode.Source, error) {
	data, ok := m[job.SourceURI]
	if !ok {
		return nil, fmt.Errorf("no such source %q", job.SourceURI)
	}
	return decode.NewBytesSource(data), nil
}

func TestEngineEndToEnd(t *testing.T) {
	rows := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	var tensor []byte
	for _, row := range rows {
		tensor = append(tensor, encoding.Float32Bytes(row)...)
	}
	doc := []byte("atoms all the way down")

	sources := memOpener{"mem://tensor": tensor, "mem://doc": doc}

	engine, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "engine.db")),
		WithSourceOpener(sources))
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	tensorJob, err := engine.SubmitIngestionJob(ctx, ingest.SubmitOptions{
		SourceURI: "mem://tensor",
		Modality:  decode.ModalityTensor,
		Subtype:   "f32x4",
		ChunkSize: 2,
		ModelID:   1,
	})
	require.NoError(t, err)

	docJob, err := engine.SubmitIngestionJob(ctx, ingest.SubmitOptions{
		SourceURI: "mem://doc",
		Modality:  decode.ModalityText,
		Subtype:   "seg8",
		ChunkSize: 2,
	})
	require.NoError(t, err)

	jobs, err := engine.RunJobs(ctx, []string{tensorJob, docJob})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, core.JobComplete, job.Status)
	}

	// Lossless reconstruction of both objects.
	got, err := engine.ReconstructBytes(ctx, jobs[0].ParentID)
	require.NoError(t, err)
	assert.Equal(t, tensor, got)

	var buf bytes.Buffer
	require.NoError(t, engine.Reconstruct(ctx, jobs[1].ParentID, &buf))
	assert.Equal(t, doc, buf.Bytes())

	// Similarity search over the ingested tensor rows.
	results, err := engine.Search(ctx, []float32{0.1, 0.95, 0.1, 0}, 1, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	atom, err := engine.Store().GetAtom(ctx, results[0].AtomID)
	require.NoError(t, err)
	assert.Equal(t, encoding.Float32Bytes(rows[1]), atom.InlineValue)
}

func TestEngineStepAndStatus(t *testing.T) {
	sources := memOpener{"mem://b": []byte("0123456789")}
	engine, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "engine.db")),
		WithSourceOpener(sources))
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	id, err := engine.SubmitIngestionJob(ctx, ingest.SubmitOptions{
		SourceURI: "mem://b",
		Modality:  decode.ModalityBlob,
		ChunkSize: 6,
	})
	require.NoError(t, err)

	job, err := engine.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, job.Status)

	job, err = engine.StepJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobProcessing, job.Status)
	assert.Equal(t, uint64(6), job.Cursor)

	job, err = engine.RunJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobComplete, job.Status)
	assert.Equal(t, uint64(10), job.UnitsProcessed)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
