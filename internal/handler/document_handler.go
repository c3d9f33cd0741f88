package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"carenotes-go/internal/chunker"
	"carenotes-go/internal/model"
	"carenotes-go/internal/pipeline"
	"carenotes-go/pkg/embedding"
	"carenotes-go/pkg/extract"
	"carenotes-go/pkg/kafka"
	"carenotes-go/pkg/log"
	"carenotes-go/pkg/storage"
	"carenotes-go/pkg/tasks"
	"carenotes-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 32 << 20

// DocumentHandler serves the ingestion entry points.
type DocumentHandler struct {
	ingestor *pipeline.Ingestor
	objects  *storage.Client
	producer *kafka.Producer
}

// NewDocumentHandler creates a DocumentHandler. objects and producer
// may be nil when the async path is disabled.
func NewDocumentHandler(ingestor *pipeline.Ingestor, objects *storage.Client, producer *kafka.Producer) *DocumentHandler {
	return &DocumentHandler{
		ingestor: ingestor,
		objects:  objects,
		producer: producer,
	}
}

// Ingest handles a synchronous multipart upload, running the full
// pipeline before responding.
func (h *DocumentHandler) Ingest(c *gin.Context) {
	req, fileName, _, ok := h.parseUpload(c)
	if !ok {
		return
	}
	log.Infof("[DocumentHandler] ingesting document, file: %s, title: %s", fileName, req.Title)

	inserted, err := h.ingestor.Ingest(c.Request.Context(), req)
	if err != nil {
		h.writeIngestError(c, fileName, err)
		return
	}

	log.Infof("[DocumentHandler] ingested document, file: %s, chunks: %d", fileName, inserted)
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"insertedCount": inserted}, "message": "success"})
}

// IngestAsync stores the upload and enqueues an ingestion task,
// responding before the pipeline runs.
func (h *DocumentHandler) IngestAsync(c *gin.Context) {
	if h.objects == nil || h.producer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"code": 501, "data": nil, "message": "async ingestion is not configured"})
		return
	}
	req, fileName, data, ok := h.parseUpload(c)
	if !ok {
		return
	}

	taskID := token.GenerateRandomString(16)
	objectName := fmt.Sprintf("uploads/%s/%s", taskID, fileName)
	if err := h.objects.Put(c.Request.Context(), objectName, data, "application/octet-stream"); err != nil {
		log.Errorf("[DocumentHandler] failed to store upload, file: %s, error: %v", fileName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "data": nil, "message": "failed to store upload"})
		return
	}

	task := tasks.IngestTask{
		TaskID:      taskID,
		ObjectName:  objectName,
		FileName:    fileName,
		Title:       req.Title,
		Category:    req.Category,
		FacilityID:  req.FacilityID,
		SourceURL:   req.SourceURL,
		LastUpdated: req.LastUpdated,
		UploadedBy:  req.UploadedBy,
	}
	if err := h.producer.Produce(c.Request.Context(), task); err != nil {
		log.Errorf("[DocumentHandler] failed to enqueue ingestion task, file: %s, error: %v", fileName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "data": nil, "message": "failed to enqueue ingestion task"})
		return
	}

	log.Infof("[DocumentHandler] enqueued ingestion task %s, file: %s", taskID, fileName)
	c.JSON(http.StatusAccepted, gin.H{"code": 202, "data": gin.H{"taskId": taskID}, "message": "accepted"})
}

// parseUpload reads the multipart form into an IngestRequest. On
// failure it writes the error response and returns ok=false.
func (h *DocumentHandler) parseUpload(c *gin.Context) (pipeline.IngestRequest, string, []byte, bool) {
	var zero pipeline.IngestRequest

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "data": nil, "message": "missing file field"})
		return zero, "", nil, false
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": 413, "data": nil, "message": "file too large"})
		return zero, "", nil, false
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "data": nil, "message": "failed to open upload"})
		return zero, "", nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "data": nil, "message": "failed to read upload"})
		return zero, "", nil, false
	}

	fileName := filepath.Base(fileHeader.Filename)
	title := c.PostForm("title")
	if title == "" {
		title = fileName
	}

	req := pipeline.IngestRequest{
		Title:     title,
		FileName:  fileName,
		SourceURL: c.PostForm("sourceUrl"),
		Data:      data,
	}
	if v := c.PostForm("category"); v != "" {
		req.Category = &v
	}
	if v := c.PostForm("facilityId"); v != "" {
		req.FacilityID = &v
	}
	if v := c.PostForm("lastUpdated"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			req.LastUpdated = &t
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "data": nil, "message": "lastUpdated must be RFC 3339"})
			return zero, "", nil, false
		}
	}
	if caller, exists := c.Get("caller"); exists {
		req.UploadedBy = caller.(*model.CallerProfile).UserID
	}
	return req, fileName, data, true
}

// writeIngestError maps pipeline failures to HTTP statuses, always
// naming the offending file.
func (h *DocumentHandler) writeIngestError(c *gin.Context, fileName string, err error) {
	log.Errorf("[DocumentHandler] ingestion failed, file: %s, error: %v", fileName, err)

	var unsupported *extract.UnsupportedFormatError
	var extraction *extract.ExtractionError
	var provider *embedding.ProviderError
	switch {
	case errors.As(err, &unsupported):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "data": nil,
			"message": fmt.Sprintf("%s: unsupported format %q", fileName, unsupported.Ext)})
	case errors.As(err, &extraction):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": 422, "data": nil,
			"message": fmt.Sprintf("%s: text extraction failed", fileName)})
	case errors.Is(err, pipeline.ErrNoExtractableText):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": 422, "data": nil,
			"message": fmt.Sprintf("%s: no extractable text", fileName)})
	case errors.Is(err, chunker.ErrInvalidConfig):
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "data": nil,
			"message": "invalid chunking configuration"})
	case errors.As(err, &provider):
		c.JSON(http.StatusBadGateway, gin.H{"code": 502, "data": nil,
			"message": fmt.Sprintf("%s: embedding provider error", fileName)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "data": nil,
			"message": fmt.Sprintf("%s: ingestion failed", fileName)})
	}
}
