// Package chunk turns extracted document text into bounded, overlapping
// chunks — the unit of embedding and retrieval.
//
// Splitting prefers sentence boundaries over punctuation over word
// boundaries, falling back to a hard cut only when a window contains no
// better split point. Output is deterministic for identical input and
// options.
package chunk

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/tutorstack/retrieval/internal/fault"
)

// Options bounds a single Split call.
type Options struct {
	// Size is the ideal chunk length in runes. Chunks never exceed it.
	Size int

	// Overlap is how many runes of the previous chunk reappear at the
	// start of the next one. Must be in [0, Size).
	Overlap int

	// MaxChunks caps emission; text beyond the cap is dropped with a
	// warning. This is a deliberate bounded-cost guarantee.
	MaxChunks int
}

// DefaultOptions matches the ingestion defaults used across the pipeline.
func DefaultOptions() Options {
	return Options{Size: 1500, Overlap: 300, MaxChunks: 1000}
}

// Splitter splits text into chunks. Safe for concurrent use.
type Splitter struct {
	logger *slog.Logger
}

// New creates a Splitter. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{logger: logger}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// abbreviations that end with a period but do not end a sentence.
// Compared case-insensitively against the token preceding a candidate
// split point.
var abbreviations = map[string]struct{}{
	"dr.": {}, "mr.": {}, "mrs.": {}, "ms.": {}, "prof.": {},
	"inc.": {}, "ltd.": {}, "co.": {}, "corp.": {},
	"etc.": {}, "e.g.": {}, "i.e.": {}, "vs.": {},
	"fig.": {}, "st.": {}, "jr.": {}, "sr.": {}, "no.": {},
	"u.s.": {}, "u.k.": {}, "ph.d.": {},
}

// Split divides text into at most opts.MaxChunks chunks of at most
// opts.Size runes each. Consecutive chunks overlap by roughly
// opts.Overlap runes; the overlap never moves the window backward.
func (s *Splitter) Split(text string, opts Options) ([]string, error) {
	if opts.Size <= 0 {
		return nil, fault.Validationf("chunk size must be positive, got %d", opts.Size)
	}
	if opts.MaxChunks <= 0 {
		return nil, fault.Validationf("max chunks must be positive, got %d", opts.MaxChunks)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		return nil, fault.Validationf("overlap must be in [0, %d), got %d", opts.Size, opts.Overlap)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fault.Validationf("input text is empty or whitespace only")
	}

	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	runes := []rune(normalized)

	if len(runes) <= opts.Size {
		return []string{normalized}, nil
	}

	var chunks []string
	start := 0
	for start < len(runes) && len(chunks) < opts.MaxChunks {
		end := start + opts.Size
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			start = len(runes)
			break
		}

		split := findSplit(runes, start, end)
		piece := strings.TrimSpace(string(runes[start:split]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		next := split - opts.Overlap
		if next <= start {
			next = start + 1
		}
		start = nudgeToWordStart(runes, next, split)
	}

	if start < len(runes) {
		s.logger.Warn("chunk limit reached, trailing text dropped",
			"max_chunks", opts.MaxChunks,
			"dropped_runes", len(runes)-start)
	}
	return chunks, nil
}

// findSplit searches backward from the ideal window end for the best cut,
// in priority order: sentence end, secondary punctuation, word boundary,
// hard cut. The returned index is exclusive and always in (start, end].
func findSplit(runes []rune, start, end int) int {
	// Sentence end: terminal mark, space, capital — skipping known
	// abbreviations and single-letter initials.
	for i := end - 1; i > start; i-- {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		if i+2 >= len(runes) || runes[i+1] != ' ' || !unicode.IsUpper(runes[i+2]) {
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes, i) {
			continue
		}
		return i + 1
	}

	for i := end - 1; i > start; i-- {
		if isSecondaryPunct(runes[i]) && i+1 < len(runes) && runes[i+1] == ' ' {
			return i + 1
		}
	}

	for i := end - 1; i > start; i-- {
		if runes[i] == ' ' {
			return i
		}
	}

	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSecondaryPunct(r rune) bool {
	return r == ';' || r == ':' || r == ','
}

// isAbbreviation reports whether the period at index i terminates a known
// abbreviation or a single-letter initial ("J. Smith").
func isAbbreviation(runes []rune, i int) bool {
	tokStart := i
	for tokStart > 0 && runes[tokStart-1] != ' ' {
		tokStart--
	}
	token := strings.ToLower(string(runes[tokStart : i+1]))
	if _, ok := abbreviations[token]; ok {
		return true
	}
	// Single uppercase letter followed by the period.
	if i-tokStart == 1 && unicode.IsUpper(runes[tokStart]) {
		return true
	}
	return false
}

// nudgeToWordStart moves pos forward past a partially covered word so the
// next chunk starts cleanly. It never advances past limit.
func nudgeToWordStart(runes []rune, pos, limit int) int {
	if pos <= 0 || pos >= len(runes) {
		return pos
	}
	if runes[pos] == ' ' {
		return pos + 1
	}
	if runes[pos-1] == ' ' {
		return pos
	}
	for i := pos; i < limit && i < len(runes); i++ {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return pos
}
