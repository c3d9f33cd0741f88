// Package extract converts raw uploaded bytes into normalized UTF-8 text.
//
// Plain-text and spreadsheet formats are handled in-process; PDF and
// word-processor formats are delegated to an Apache Tika server.
package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"carenotes-go/internal/config"
)

// UnsupportedFormatError names a file extension the extractor has no
// handler for.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q", e.Ext)
}

// ExtractionError reports a handler failure (corrupt file, extraction
// service unreachable). The ingestion caller decides whether to skip
// the file or abort the batch.
type ExtractionError struct {
	FileName string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract text from %q: %v", e.FileName, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor dispatches on file extension to a per-format handler.
type Extractor struct {
	tika *TikaClient
}

// New creates an Extractor backed by the configured Tika server.
func New(cfg config.TikaConfig) *Extractor {
	return &Extractor{tika: NewTikaClient(cfg.ServerURL)}
}

// Extract converts the raw file bytes into plain UTF-8 text.
func (e *Extractor) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))

	switch ext {
	case "txt", "text", "md", "markdown", "log":
		return strings.ToValidUTF8(string(data), ""), nil
	case "csv":
		return e.extractRows(data, fileName, ',')
	case "tsv":
		return e.extractRows(data, fileName, '\t')
	case "pdf", "doc", "docx", "ppt", "pptx", "xls", "xlsx", "rtf", "odt":
		text, err := e.tika.ExtractText(ctx, bytes.NewReader(data), fileName)
		if err != nil {
			return "", &ExtractionError{FileName: fileName, Err: err}
		}
		return text, nil
	default:
		return "", &UnsupportedFormatError{Ext: ext}
	}
}

// extractRows renders delimited data as one text line per row so the
// chunker keeps row boundaries intact.
func (e *Extractor) extractRows(data []byte, fileName string, comma rune) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	var sb strings.Builder
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &ExtractionError{FileName: fileName, Err: err}
		}
		sb.WriteString(strings.Join(record, ", "))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
