package service

import (
	"strings"
	"testing"

	"carenotes-go/internal/config"
	"carenotes-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder() *ContextBuilder {
	return NewContextBuilder(config.RAGConfig{})
}

func TestAssembleEmpty(t *testing.T) {
	b := newTestBuilder()
	out := b.Assemble(nil)
	assert.Empty(t, out.Text)
	assert.Empty(t, out.Chunks)
}

func TestAssembleNumberedEntries(t *testing.T) {
	b := newTestBuilder()
	chunks := []model.ScoredChunk{
		{Title: "Hand Hygiene", Category: "infection-control", Content: "Wash hands before contact.", SourceURL: "https://kb/hygiene"},
		{Title: "Visitor Policy", Content: "Visitors sign in at the front desk."},
	}

	out := b.Assemble(chunks)
	require.NotEmpty(t, out.Text)
	assert.True(t, strings.HasPrefix(out.Text, "Reference excerpts from the facility knowledge base:"))
	assert.Contains(t, out.Text, "(1) [infection-control] Hand Hygiene [source: https://kb/hygiene]\nWash hands before contact.")
	assert.Contains(t, out.Text, "(2) Visitor Policy\nVisitors sign in at the front desk.")
	assert.Equal(t, chunks, out.Chunks)
}

func TestAssembleCollapsesWhitespace(t *testing.T) {
	b := newTestBuilder()
	out := b.Assemble([]model.ScoredChunk{
		{Title: "T", Content: "  line one\n\n\tline   two  "},
	})
	assert.Contains(t, out.Text, "line one line two")
}

func TestAssembleTruncatesLongSnippets(t *testing.T) {
	b := newTestBuilder()
	long := strings.Repeat("w", 2000)
	out := b.Assemble([]model.ScoredChunk{{Title: "T", Content: long}})

	lines := strings.Split(out.Text, "\n")
	snippet := lines[len(lines)-1]
	runes := []rune(snippet)
	assert.Len(t, runes, 801)
	assert.Equal(t, '…', runes[800])
}

func TestPrioritizeBucketOrder(t *testing.T) {
	b := newTestBuilder()
	caller := &model.CallerProfile{Role: "Nurse", FacilityName: "Sunrise Manor"}

	chunks := []model.ScoredChunk{
		{ID: "general-1", Content: "The cafeteria opens at seven."},
		{ID: "facility-1", Content: "Sunrise Manor uses the east entrance after hours."},
		{ID: "role-1", Content: "Every nurse documents vitals at shift start."},
		{ID: "critical-1", Content: "Per 42 CFR § 483.12 abuse is prohibited."},
		{ID: "general-2", Content: "Parking passes renew monthly."},
	}

	out := b.Prioritize(chunks, caller, 0)
	require.Len(t, out, 5)
	assert.Equal(t, "critical-1", out[0].ID)
	assert.Equal(t, "role-1", out[1].ID)
	assert.Equal(t, "facility-1", out[2].ID)
	assert.Equal(t, "general-1", out[3].ID)
	assert.Equal(t, "general-2", out[4].ID)
}

func TestPrioritizeStableWithinBucket(t *testing.T) {
	b := newTestBuilder()
	chunks := []model.ScoredChunk{
		{ID: "c1", Content: "F-Tag 689 covers accident hazards."},
		{ID: "g1", Content: "Laundry runs twice a day."},
		{ID: "c2", Content: "Staff must comply with infection control plans."},
		{ID: "g2", Content: "The garden closes at dusk."},
	}

	out := b.Prioritize(chunks, nil, 0)
	require.Len(t, out, 4)
	assert.Equal(t, []string{"c1", "c2", "g1", "g2"}, []string{out[0].ID, out[1].ID, out[2].ID, out[3].ID})
}

func TestPrioritizeLimit(t *testing.T) {
	b := newTestBuilder()
	chunks := []model.ScoredChunk{
		{ID: "a", Content: "plain"},
		{ID: "b", Content: "plain"},
		{ID: "c", Content: "plain"},
	}
	out := b.Prioritize(chunks, nil, 2)
	assert.Len(t, out, 2)
}

func TestPrioritizeCustomKeywords(t *testing.T) {
	b := NewContextBuilder(config.RAGConfig{
		Priority: config.PriorityConfig{
			CriticalPatterns: []string{`\bpolicy\s+\d+`},
			CriticalKeywords: []string{"mandatory"},
		},
	})

	out := b.Prioritize([]model.ScoredChunk{
		{ID: "g", Content: "General note."},
		{ID: "p", Content: "See Policy 17 for details."},
		{ID: "k", Content: "Attendance is mandatory."},
	}, nil, 0)

	require.Len(t, out, 3)
	assert.Equal(t, "p", out[0].ID)
	assert.Equal(t, "k", out[1].ID)
	assert.Equal(t, "g", out[2].ID)
}
