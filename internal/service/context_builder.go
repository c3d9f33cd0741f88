package service

import (
	"fmt"
	"regexp"
	"strings"

	"carenotes-go/internal/config"
	"carenotes-go/internal/model"
	"carenotes-go/pkg/log"
)

// Snippets are capped well below the chunk size so ten entries fit a
// completion prompt comfortably.
const maxSnippetLen = 800

const defaultContextHeader = "Reference excerpts from the facility knowledge base:"

// Patterns and keywords flagging regulatory-citation content. These are
// heuristics, kept as configurable data; the compiled-in lists are only
// the fallback.
var (
	defaultCriticalPatterns = []string{
		`\b\d+\s*c\.?f\.?r\.?\s*§?\s*\d+`,
		`\bf[- ]?tag\s*\d+`,
		`§\s*\d+`,
	}
	defaultCriticalKeywords = []string{
		"code of federal regulations",
		"cms requirement",
		"must comply",
		"is required by",
		"shall ensure",
		"prohibited",
	}
)

// ContextBuilder formats retrieved chunks into a citation-ready context
// block and applies the caller-aware priority partition.
type ContextBuilder struct {
	header           string
	criticalPatterns []*regexp.Regexp
	criticalKeywords []string
}

var whitespaceRuns = regexp.MustCompile(`\s+`)

// NewContextBuilder compiles the configured priority heuristics,
// falling back to the built-in defaults where the config is empty.
func NewContextBuilder(cfg config.RAGConfig) *ContextBuilder {
	header := cfg.ContextHeader
	if header == "" {
		header = defaultContextHeader
	}

	patterns := cfg.Priority.CriticalPatterns
	if len(patterns) == 0 {
		patterns = defaultCriticalPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			log.Warnf("skipping invalid critical pattern %q: %v", p, err)
			continue
		}
		compiled = append(compiled, re)
	}

	keywords := cfg.Priority.CriticalKeywords
	if len(keywords) == 0 {
		keywords = defaultCriticalKeywords
	}
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}

	return &ContextBuilder{
		header:           header,
		criticalPatterns: compiled,
		criticalKeywords: lowered,
	}
}

// Assemble renders the chunks, in input order, as numbered citation
// entries under the header. An empty input yields an empty text, which
// callers treat as "omit the context block entirely".
func (b *ContextBuilder) Assemble(chunks []model.ScoredChunk) model.AssembledContext {
	if len(chunks) == 0 {
		return model.AssembledContext{}
	}

	entries := make([]string, 0, len(chunks))
	for i, c := range chunks {
		snippet := whitespaceRuns.ReplaceAllString(strings.TrimSpace(c.Content), " ")
		if runes := []rune(snippet); len(runes) > maxSnippetLen {
			snippet = string(runes[:maxSnippetLen]) + "…"
		}

		var label strings.Builder
		fmt.Fprintf(&label, "(%d) ", i+1)
		if c.Category != "" {
			fmt.Fprintf(&label, "[%s] ", c.Category)
		}
		label.WriteString(c.Title)
		if c.SourceURL != "" {
			fmt.Fprintf(&label, " [source: %s]", c.SourceURL)
		}
		entries = append(entries, label.String()+"\n"+snippet)
	}

	text := b.header + "\n\n" + strings.Join(entries, "\n\n")
	return model.AssembledContext{Text: text, Chunks: chunks}
}

// Prioritize partitions the hits into four buckets evaluated in fixed
// order: regulatory-citation content, content naming the caller's role,
// content naming the caller's facility, then everything else. Relative
// order inside each bucket is preserved (stable partition, not a
// re-sort), and the concatenation is truncated to limit.
func (b *ContextBuilder) Prioritize(chunks []model.ScoredChunk, caller *model.CallerProfile, limit int) []model.ScoredChunk {
	var critical, roleHits, facilityHits, general []model.ScoredChunk

	role := ""
	facility := ""
	if caller != nil {
		role = strings.ToLower(caller.Role)
		facility = strings.ToLower(caller.FacilityName)
	}

	for _, c := range chunks {
		content := strings.ToLower(c.Content)
		switch {
		case b.isCritical(content):
			critical = append(critical, c)
		case role != "" && strings.Contains(content, role):
			roleHits = append(roleHits, c)
		case facility != "" && strings.Contains(content, facility):
			facilityHits = append(facilityHits, c)
		default:
			general = append(general, c)
		}
	}

	out := make([]model.ScoredChunk, 0, len(chunks))
	out = append(out, critical...)
	out = append(out, roleHits...)
	out = append(out, facilityHits...)
	out = append(out, general...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (b *ContextBuilder) isCritical(loweredContent string) bool {
	for _, re := range b.criticalPatterns {
		if re.MatchString(loweredContent) {
			return true
		}
	}
	for _, kw := range b.criticalKeywords {
		if strings.Contains(loweredContent, kw) {
			return true
		}
	}
	return false
}
