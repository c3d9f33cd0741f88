package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"carenotes-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(tikaURL string) *Extractor {
	return New(config.TikaConfig{ServerURL: tikaURL})
}

func TestExtractPlainText(t *testing.T) {
	e := newTestExtractor("")
	text, err := e.Extract(context.Background(), []byte("hello world"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestExtractPlainTextDropsInvalidUTF8(t *testing.T) {
	e := newTestExtractor("")
	text, err := e.Extract(context.Background(), []byte{'o', 'k', 0xff, '!'}, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "ok!", text)
}

func TestExtractCSVOneLinePerRow(t *testing.T) {
	e := newTestExtractor("")
	data := []byte("name,role\nalice,nurse\nbob,aide\n")
	text, err := e.Extract(context.Background(), data, "staff.csv")
	require.NoError(t, err)
	assert.Equal(t, "name, role\nalice, nurse\nbob, aide\n", text)
}

func TestExtractTSV(t *testing.T) {
	e := newTestExtractor("")
	text, err := e.Extract(context.Background(), []byte("a\tb\nc\td\n"), "data.tsv")
	require.NoError(t, err)
	assert.Equal(t, "a, b\nc, d\n", text)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e := newTestExtractor("")
	_, err := e.Extract(context.Background(), []byte{0x00}, "image.png")

	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "png", unsupported.Ext)
}

func TestExtractPDFViaTika(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))
		w.Write([]byte("extracted pdf text"))
	}))
	defer srv.Close()

	e := newTestExtractor(srv.URL)
	text, err := e.Extract(context.Background(), []byte("%PDF-1.4"), "manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, "extracted pdf text", text)
}

func TestExtractTikaFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "parse error", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	e := newTestExtractor(srv.URL)
	_, err := e.Extract(context.Background(), []byte("broken"), "broken.docx")

	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.Equal(t, "broken.docx", extraction.FileName)
}

func TestExtractTikaUnreachable(t *testing.T) {
	e := newTestExtractor("http://127.0.0.1:1")
	_, err := e.Extract(context.Background(), []byte("data"), "doc.pdf")

	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.True(t, errors.Unwrap(extraction) != nil)
}
