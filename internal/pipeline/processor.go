// Package pipeline orchestrates document ingestion: extract text, chunk
// it, embed every chunk in one batched call, and persist rows plus
// index entries as a unit.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"carenotes-go/internal/chunker"
	"carenotes-go/internal/config"
	"carenotes-go/internal/model"
	"carenotes-go/internal/repository"
	"carenotes-go/pkg/embedding"
	"carenotes-go/pkg/log"
	"carenotes-go/pkg/tasks"
)

// ErrNoExtractableText rejects documents whose extracted text is empty
// after whitespace trimming.
var ErrNoExtractableText = errors.New("no extractable text in document")

// TextExtractor converts raw file bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, fileName string) (string, error)
}

// ChunkIndexer is the search-index side of the store contract.
type ChunkIndexer interface {
	BulkIndex(ctx context.Context, docs []model.IndexedChunk) error
	DeleteByDigest(ctx context.Context, digest string) error
}

// ObjectFetcher pulls raw uploads for the async ingestion path.
type ObjectFetcher interface {
	Get(ctx context.Context, objectName string) ([]byte, error)
}

// IngestRequest carries one document through the pipeline.
type IngestRequest struct {
	FacilityID  *string
	Category    *string
	Title       string
	FileName    string
	SourceURL   string
	LastUpdated *time.Time
	Data        []byte
	UploadedBy  uint
}

// Ingestor wires the extraction, chunking, embedding and persistence
// stages together.
type Ingestor struct {
	extractor TextExtractor
	embedder  embedding.Embedder
	chunkRepo repository.ChunkRepository
	indexer   ChunkIndexer
	objects   ObjectFetcher
	ragCfg    config.RAGConfig
	modelName string
}

// NewIngestor creates an Ingestor. objects may be nil when the async
// path is not used.
func NewIngestor(
	extractor TextExtractor,
	embedder embedding.Embedder,
	chunkRepo repository.ChunkRepository,
	indexer ChunkIndexer,
	objects ObjectFetcher,
	ragCfg config.RAGConfig,
	modelName string,
) *Ingestor {
	return &Ingestor{
		extractor: extractor,
		embedder:  embedder,
		chunkRepo: chunkRepo,
		indexer:   indexer,
		objects:   objects,
		ragCfg:    ragCfg,
		modelName: modelName,
	}
}

// Ingest runs the full pipeline for one document and returns the
// number of chunk rows inserted. All rows commit or none do; an index
// failure rolls the rows back so the corpus never holds a partial
// document.
func (p *Ingestor) Ingest(ctx context.Context, req IngestRequest) (int, error) {
	text, err := p.extractor.Extract(ctx, req.Data, req.FileName)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: %s", ErrNoExtractableText, req.FileName)
	}

	title := req.Title
	if title == "" {
		title = req.FileName
	}
	metadata := map[string]string{"source_file": req.FileName}
	if req.Category != nil {
		metadata["ingest_category"] = *req.Category
	}

	opts := chunker.Options{Size: p.ragCfg.ChunkSize, Overlap: p.ragCfg.ChunkOverlap}
	chunks, err := chunker.Split(title, text, opts, metadata)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	vectors, err := p.embedder.Embed(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d chunks of %q: %w", len(chunks), req.FileName, err)
	}

	digest := sha256Hex(req.Data)

	// Re-ingesting the same document replaces its chunks wholesale.
	if err := p.chunkRepo.DeleteByDigest(ctx, digest); err != nil {
		return 0, fmt.Errorf("failed to clear previous rows for %q: %w", req.FileName, err)
	}
	if err := p.indexer.DeleteByDigest(ctx, digest); err != nil {
		log.Warnf("failed to clear previous index entries for %s: %v", req.FileName, err)
	}

	rows := make([]*model.KnowledgeChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = &model.KnowledgeChunk{
			DocDigest:    digest,
			ChunkIndex:   c.Index,
			FacilityID:   req.FacilityID,
			Category:     req.Category,
			Title:        c.Title,
			Content:      c.Content,
			SourceURL:    req.SourceURL,
			LastUpdated:  req.LastUpdated,
			ModelVersion: p.modelName,
			Metadata:     model.MetadataMap(c.Metadata),
			UploadedBy:   req.UploadedBy,
		}
	}
	if err := p.chunkRepo.CreateAll(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to persist chunk rows for %q: %w", req.FileName, err)
	}

	docs := make([]model.IndexedChunk, len(rows))
	for i, row := range rows {
		facility := ""
		if row.FacilityID != nil {
			facility = *row.FacilityID
		}
		category := ""
		if row.Category != nil {
			category = *row.Category
		}
		docs[i] = model.IndexedChunk{
			ChunkKey:     fmt.Sprintf("%s_%d", digest, row.ChunkIndex),
			RowID:        row.ID,
			DocDigest:    digest,
			ChunkIndex:   row.ChunkIndex,
			FacilityID:   facility,
			IsGlobal:     row.FacilityID == nil,
			Category:     category,
			Title:        row.Title,
			Content:      row.Content,
			Embedding:    vectors[i],
			SourceURL:    row.SourceURL,
			LastUpdated:  row.LastUpdated,
			ModelVersion: row.ModelVersion,
			Metadata:     row.Metadata,
		}
	}
	if err := p.indexer.BulkIndex(ctx, docs); err != nil {
		// Roll the rows back so no partially indexed document survives.
		if delErr := p.chunkRepo.DeleteByDigest(ctx, digest); delErr != nil {
			log.Errorf("rollback after index failure also failed for %s: %v", req.FileName, delErr)
		}
		return 0, fmt.Errorf("failed to index chunks for %q: %w", req.FileName, err)
	}

	log.Infof("ingested %q: %d chunks (digest=%s)", req.FileName, len(rows), digest[:12])
	return len(rows), nil
}

// ProcessTask services one queued ingestion: fetch the stored upload
// and run the same pipeline as the synchronous entry point.
func (p *Ingestor) ProcessTask(ctx context.Context, task tasks.IngestTask) error {
	if p.objects == nil {
		return errors.New("object storage not configured")
	}
	data, err := p.objects.Get(ctx, task.ObjectName)
	if err != nil {
		return fmt.Errorf("failed to fetch upload %q: %w", task.ObjectName, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("upload %q is empty", task.ObjectName)
	}

	count, err := p.Ingest(ctx, IngestRequest{
		FacilityID:  task.FacilityID,
		Category:    task.Category,
		Title:       task.Title,
		FileName:    task.FileName,
		SourceURL:   task.SourceURL,
		LastUpdated: task.LastUpdated,
		Data:        data,
		UploadedBy:  task.UploadedBy,
	})
	if err != nil {
		return err
	}
	log.Infof("task %s ingested %d chunks", task.TaskID, count)
	return nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
