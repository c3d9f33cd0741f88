package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"carenotes-go/internal/config"
	"carenotes-go/internal/model"
	"carenotes-go/pkg/extract"
	"carenotes-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _ string) (string, error) {
	return f.text, f.err
}

type fakeEmbedder struct {
	dims int
	err  error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeChunkRepo struct {
	created     []*model.KnowledgeChunk
	createErr   error
	deleteCalls []string
}

func (f *fakeChunkRepo) CreateAll(_ context.Context, chunks []*model.KnowledgeChunk) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, chunks...)
	return nil
}

func (f *fakeChunkRepo) DeleteByDigest(_ context.Context, digest string) error {
	f.deleteCalls = append(f.deleteCalls, digest)
	return nil
}

func (f *fakeChunkRepo) FindByDigest(_ context.Context, _ string) ([]*model.KnowledgeChunk, error) {
	return nil, nil
}

type fakeIndexer struct {
	indexed     []model.IndexedChunk
	indexErr    error
	deleteCalls []string
}

func (f *fakeIndexer) BulkIndex(_ context.Context, docs []model.IndexedChunk) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, docs...)
	return nil
}

func (f *fakeIndexer) DeleteByDigest(_ context.Context, digest string) error {
	f.deleteCalls = append(f.deleteCalls, digest)
	return nil
}

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) Get(_ context.Context, objectName string) ([]byte, error) {
	data, ok := f.data[objectName]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{ChunkSize: 100, ChunkOverlap: 20}
}

func newTestIngestor(ex *fakeExtractor, repo *fakeChunkRepo, idx *fakeIndexer, objects ObjectFetcher) *Ingestor {
	return NewIngestor(ex, &fakeEmbedder{dims: 8}, repo, idx, objects, testRAGConfig(), "test-model")
}

func TestIngestHappyPath(t *testing.T) {
	repo := &fakeChunkRepo{}
	idx := &fakeIndexer{}
	ex := &fakeExtractor{text: strings.Repeat("care plan text ", 30)}
	ing := newTestIngestor(ex, repo, idx, nil)

	facility := "fac-1"
	count, err := ing.Ingest(context.Background(), IngestRequest{
		FacilityID: &facility,
		Title:      "Care Plans",
		FileName:   "plans.txt",
		Data:       []byte("raw bytes"),
		UploadedBy: 7,
	})
	require.NoError(t, err)
	assert.Greater(t, count, 1)
	assert.Len(t, repo.created, count)
	assert.Len(t, idx.indexed, count)

	// Rows and index docs agree on identity and scope.
	for i, row := range repo.created {
		assert.Equal(t, i, row.ChunkIndex)
		assert.Equal(t, "Care Plans", row.Title)
		assert.Equal(t, "test-model", row.ModelVersion)
		assert.Equal(t, uint(7), row.UploadedBy)

		doc := idx.indexed[i]
		assert.Equal(t, row.DocDigest, doc.DocDigest)
		assert.Equal(t, "fac-1", doc.FacilityID)
		assert.False(t, doc.IsGlobal)
		assert.Len(t, doc.Embedding, 8)
	}

	// Idempotent re-ingest clears both stores first.
	assert.Len(t, repo.deleteCalls, 1)
	assert.Len(t, idx.deleteCalls, 1)
}

func TestIngestGlobalWhenNoFacility(t *testing.T) {
	repo := &fakeChunkRepo{}
	idx := &fakeIndexer{}
	ing := newTestIngestor(&fakeExtractor{text: "short policy"}, repo, idx, nil)

	_, err := ing.Ingest(context.Background(), IngestRequest{FileName: "p.txt", Data: []byte("x")})
	require.NoError(t, err)
	require.Len(t, idx.indexed, 1)
	assert.True(t, idx.indexed[0].IsGlobal)
	assert.Empty(t, idx.indexed[0].FacilityID)
}

func TestIngestPropagatesExtractionErrors(t *testing.T) {
	unsupported := &extract.UnsupportedFormatError{Ext: "png"}
	ing := newTestIngestor(&fakeExtractor{err: unsupported}, &fakeChunkRepo{}, &fakeIndexer{}, nil)

	_, err := ing.Ingest(context.Background(), IngestRequest{FileName: "x.png", Data: []byte("x")})
	var got *extract.UnsupportedFormatError
	require.ErrorAs(t, err, &got)
}

func TestIngestNoExtractableText(t *testing.T) {
	ing := newTestIngestor(&fakeExtractor{text: "   \n  "}, &fakeChunkRepo{}, &fakeIndexer{}, nil)

	_, err := ing.Ingest(context.Background(), IngestRequest{FileName: "empty.pdf", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNoExtractableText)
}

func TestIngestEmbeddingFailureWritesNothing(t *testing.T) {
	repo := &fakeChunkRepo{}
	idx := &fakeIndexer{}
	ing := NewIngestor(&fakeExtractor{text: "some text"}, &fakeEmbedder{dims: 8, err: errors.New("provider down")},
		repo, idx, nil, testRAGConfig(), "test-model")

	_, err := ing.Ingest(context.Background(), IngestRequest{FileName: "f.txt", Data: []byte("x")})
	require.Error(t, err)
	assert.Empty(t, repo.created)
	assert.Empty(t, repo.deleteCalls)
	assert.Empty(t, idx.indexed)
}

func TestIngestRollsBackRowsOnIndexFailure(t *testing.T) {
	repo := &fakeChunkRepo{}
	idx := &fakeIndexer{indexErr: errors.New("bulk rejected")}
	ing := newTestIngestor(&fakeExtractor{text: "some policy text"}, repo, idx, nil)

	_, err := ing.Ingest(context.Background(), IngestRequest{FileName: "f.txt", Data: []byte("x")})
	require.Error(t, err)

	// One delete for idempotent replace, one for the rollback.
	assert.Len(t, repo.deleteCalls, 2)
}

func TestProcessTaskFetchesUpload(t *testing.T) {
	repo := &fakeChunkRepo{}
	idx := &fakeIndexer{}
	objects := &fakeObjects{data: map[string][]byte{
		"uploads/t1/f.txt": []byte("stored upload"),
	}}
	ing := newTestIngestor(&fakeExtractor{text: "stored upload"}, repo, idx, objects)

	err := ing.ProcessTask(context.Background(), tasks.IngestTask{
		TaskID:     "t1",
		ObjectName: "uploads/t1/f.txt",
		FileName:   "f.txt",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, repo.created)
}

func TestProcessTaskMissingObject(t *testing.T) {
	ing := newTestIngestor(&fakeExtractor{text: "x"}, &fakeChunkRepo{}, &fakeIndexer{}, &fakeObjects{})

	err := ing.ProcessTask(context.Background(), tasks.IngestTask{ObjectName: "gone"})
	require.Error(t, err)
}
