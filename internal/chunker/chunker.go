// Package chunker splits normalized text into overlapping fixed-size
// segments, the atomic unit stored and retrieved.
package chunker

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidConfig rejects chunk parameters where the overlap is not
// strictly smaller than the chunk size.
var ErrInvalidConfig = errors.New("chunk overlap must be strictly less than chunk size")

// Options carries the sliding-window parameters.
type Options struct {
	Size    int
	Overlap int
}

// Chunk is one window of the source text plus its provenance.
type Chunk struct {
	Index    int
	Offset   int
	Title    string
	Content  string
	Metadata map[string]string
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize unifies line endings and collapses runs of blank lines.
func Normalize(text string) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Split normalizes the text and slides a window of opts.Size runes
// across it, advancing by opts.Size-opts.Overlap each step. The final
// partial window is emitted even when shorter than opts.Size. Every
// chunk carries the same title and metadata. Empty input yields zero
// chunks.
func Split(title, text string, opts Options, metadata map[string]string) ([]Chunk, error) {
	if opts.Size <= 0 || opts.Overlap < 0 || opts.Overlap >= opts.Size {
		return nil, ErrInvalidConfig
	}

	runes := []rune(Normalize(text))
	if len(runes) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	step := opts.Size - opts.Overlap
	for i := 0; i < len(runes); i += step {
		end := i + opts.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Offset:   i,
			Title:    title,
			Content:  string(runes[i:end]),
			Metadata: metadata,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
