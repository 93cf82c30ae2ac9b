// Package retrieval implements multi-strategy search over a user's
// library: several vector searches run concurrently, their hits are
// merged with diversity control, enriched with document metadata, and
// summarized by the completion service.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tutorstack/retrieval/internal/fault"
	"github.com/tutorstack/retrieval/internal/llm"
	"github.com/tutorstack/retrieval/internal/metadata"
	"github.com/tutorstack/retrieval/internal/vector"
)

const (
	// defaultMaxChunks is used when the caller does not set Params.MaxChunks.
	defaultMaxChunks = 10

	// defaultMinScore is the similarity floor below which hits are noise.
	defaultMinScore = 0.7

	// maxPerDoc caps how many chunks one document may contribute.
	maxPerDoc = 4

	// contextChunks is how many top hits reach the completion prompt.
	contextChunks = 5

	// maxSources and maxReferences bound the response lists.
	maxSources    = 5
	maxReferences = 5

	// answerTemperature and answerMaxTokens tune the summary call.
	answerTemperature = 0.2
	answerMaxTokens   = 250
)

// Canned answers for the paths where the completion service is skipped
// or has failed.
const (
	answerNoMatch = "I couldn't find any relevant information in your library for this query. " +
		"Try using different keywords or check if you have documents uploaded."

	answerNoContent = "I found relevant documents but couldn't extract readable content. " +
		"Please try rephrasing your question."

	answerDegraded = "I found relevant information but couldn't generate a proper response. " +
		"Please try rephrasing your question."
)

// Params describes one library search.
type Params struct {
	Query  string
	UserID string

	// MaxChunks bounds the result set. Zero means 10.
	MaxChunks int

	// DocumentTypes restricts results to the given types. Empty means all.
	DocumentTypes []metadata.DocType

	// MinScore is the similarity floor. Zero means 0.7.
	MinScore float64
}

// Reference points the user at one source document.
type Reference struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

// Response is the answer plus its provenance.
type Response struct {
	Answer     string      `json:"answer"`
	Sources    []string    `json:"sources"`
	References []Reference `json:"references"`
}

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs one similarity search against the user's collection.
type Searcher interface {
	Search(ctx context.Context, queryVector []float32, userID string, topK int) ([]vector.Hit, error)
}

// Resolver loads metadata for the documents behind a set of hits,
// dropping ids the user does not own.
type Resolver interface {
	MetadataByIDs(ctx context.Context, docIDs []string, userID string) (map[string]metadata.Doc, error)
}

// CompletionService synthesizes the final answer.
type CompletionService interface {
	Complete(ctx context.Context, messages []llm.Message, opts llm.CompleteOptions) (string, error)
}

// Retriever orchestrates the search strategies.
type Retriever struct {
	embedder  Embedder
	searcher  Searcher
	resolver  Resolver
	completer CompletionService
	logger    *slog.Logger
}

// New creates a Retriever.
func New(embedder Embedder, searcher Searcher, resolver Resolver, completer CompletionService, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder:  embedder,
		searcher:  searcher,
		resolver:  resolver,
		completer: completer,
		logger:    logger,
	}
}

// SearchLibrary answers a question from the user's documents. Service
// failures along the way degrade the answer rather than erroring: only
// invalid input produces a non-nil error.
func (r *Retriever) SearchLibrary(ctx context.Context, p Params) (Response, error) {
	if strings.TrimSpace(p.Query) == "" {
		return Response{}, fault.Validationf("query is required")
	}
	if p.UserID == "" {
		return Response{}, fault.Validationf("user id is required")
	}
	maxChunks := p.MaxChunks
	if maxChunks <= 0 {
		maxChunks = defaultMaxChunks
	}
	minScore := p.MinScore
	if minScore == 0 {
		minScore = defaultMinScore
	}

	r.logger.Info("library search", "user_id", p.UserID, "query", p.Query)

	hits := r.multiStrategySearch(ctx, p.Query, p.UserID, maxChunks)

	kept := hits[:0:0]
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	r.logger.Info("score filter applied",
		"min_score", minScore, "before", len(hits), "after", len(kept))
	if len(kept) == 0 {
		return Response{Answer: answerNoMatch, Sources: []string{}, References: []Reference{}}, nil
	}

	kept = diversify(kept, maxPerDoc, r.logger)

	docs, err := r.resolver.MetadataByIDs(ctx, uniqueDocIDs(kept), p.UserID)
	if err != nil {
		r.logger.Error("metadata enrichment failed", "user_id", p.UserID, "error", err)
		return Response{Answer: answerDegraded, Sources: []string{}, References: []Reference{}}, nil
	}

	// Hits whose document did not resolve belong to someone else or to
	// nothing; they never reach the answer.
	owned := kept[:0:0]
	for _, h := range kept {
		if _, ok := docs[h.DocID]; ok {
			owned = append(owned, h)
		}
	}

	if len(p.DocumentTypes) > 0 {
		wanted := make(map[metadata.DocType]bool, len(p.DocumentTypes))
		names := make([]string, 0, len(p.DocumentTypes))
		for _, t := range p.DocumentTypes {
			wanted[t] = true
			names = append(names, t.String())
		}
		filtered := owned[:0:0]
		for _, h := range owned {
			if wanted[docs[h.DocID].Type] {
				filtered = append(filtered, h)
			}
		}
		if len(filtered) == 0 {
			answer := fmt.Sprintf(
				"I found some documents but none match the requested document types: %s.",
				strings.Join(names, ", "))
			return Response{Answer: answer, Sources: []string{}, References: []Reference{}}, nil
		}
		owned = filtered
	}

	if len(owned) == 0 {
		return Response{Answer: answerNoMatch, Sources: []string{}, References: []Reference{}}, nil
	}

	answer := r.generateAnswer(ctx, p.Query, owned, docs)
	return formatResponse(answer, owned, docs), nil
}

// multiStrategySearch fans the query out across the three strategies and
// merges their hits once all have finished. A strategy that fails
// contributes nothing; merging preserves strategy order so the full-query
// hit wins a duplicate.
func (r *Retriever) multiStrategySearch(ctx context.Context, query, userID string, maxChunks int) []vector.Hit {
	var wg sync.WaitGroup
	results := make([][]vector.Hit, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		results[0] = r.searchFullQuery(ctx, query, userID, maxChunks)
	}()
	go func() {
		defer wg.Done()
		results[1] = r.searchSubQueries(ctx, query, userID, maxChunks)
	}()
	go func() {
		defer wg.Done()
		results[2] = r.searchKeyTerms(ctx, query, userID)
	}()
	wg.Wait()

	seen := make(map[string]bool)
	var merged []vector.Hit
	for _, hits := range results {
		for _, h := range hits {
			key := fmt.Sprintf("%s_%d", h.DocID, h.ChunkIndex)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, h)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > maxChunks*2 {
		merged = merged[:maxChunks*2]
	}

	r.logger.Info("multi-strategy search merged",
		"unique_chunks", len(merged), "documents", len(uniqueDocIDs(merged)))
	return merged
}

func (r *Retriever) searchFullQuery(ctx context.Context, query, userID string, topK int) []vector.Hit {
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		r.logger.Warn("full-query embedding failed", "error", err)
		return nil
	}
	hits, err := r.searcher.Search(ctx, vec, userID, topK)
	if err != nil {
		r.logger.Warn("full-query search failed", "error", err)
		return nil
	}
	return hits
}

// searchSubQueries splits compound questions on " and " and searches
// each half with a smaller budget.
func (r *Retriever) searchSubQueries(ctx context.Context, query, userID string, maxChunks int) []vector.Hit {
	lowered := strings.ToLower(query)
	if !strings.Contains(lowered, " and ") {
		return nil
	}

	var subs []string
	for _, part := range strings.Split(lowered, " and ") {
		if p := strings.TrimSpace(part); p != "" {
			subs = append(subs, p)
		}
	}
	if len(subs) > 2 {
		subs = subs[:2]
	}

	topK := maxChunks / 2
	if topK < 1 {
		topK = 1
	}

	var hits []vector.Hit
	for _, sub := range subs {
		vec, err := r.embedder.EmbedQuery(ctx, sub)
		if err != nil {
			r.logger.Warn("sub-query embedding failed", "sub_query", sub, "error", err)
			continue
		}
		subHits, err := r.searcher.Search(ctx, vec, userID, topK)
		if err != nil {
			r.logger.Warn("sub-query search failed", "sub_query", sub, "error", err)
			continue
		}
		hits = append(hits, subHits...)
	}
	return hits
}

// searchKeyTerms searches each extracted key term with a small fixed
// budget to pull in documents the full query misses.
func (r *Retriever) searchKeyTerms(ctx context.Context, query, userID string) []vector.Hit {
	terms := keyTerms(query)
	if len(terms) > 3 {
		terms = terms[:3]
	}

	var hits []vector.Hit
	for _, term := range terms {
		vec, err := r.embedder.EmbedQuery(ctx, term)
		if err != nil {
			r.logger.Warn("key-term embedding failed", "term", term, "error", err)
			continue
		}
		termHits, err := r.searcher.Search(ctx, vec, userID, 5)
		if err != nil {
			r.logger.Warn("key-term search failed", "term", term, "error", err)
			continue
		}
		hits = append(hits, termHits...)
	}
	return hits
}

// diversify caps the number of chunks any single document contributes,
// preserving score order.
func diversify(hits []vector.Hit, limit int, logger *slog.Logger) []vector.Hit {
	perDoc := make(map[string]int)
	diverse := hits[:0:0]
	for _, h := range hits {
		if h.DocID == "" {
			continue
		}
		if perDoc[h.DocID] >= limit {
			continue
		}
		perDoc[h.DocID]++
		diverse = append(diverse, h)
	}
	logger.Info("document diversity applied",
		"chunks", len(diverse), "documents", len(perDoc))
	return diverse
}

func uniqueDocIDs(hits []vector.Hit) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, h := range hits {
		if h.DocID != "" && !seen[h.DocID] {
			seen[h.DocID] = true
			ids = append(ids, h.DocID)
		}
	}
	return ids
}

// generateAnswer builds the context block from the top hits and asks the
// completion service for a summary. Completion failure degrades to a
// fixed answer; the caller still returns sources.
func (r *Retriever) generateAnswer(ctx context.Context, query string, hits []vector.Hit, docs map[string]metadata.Doc) string {
	var parts []string
	used := make(map[string]bool)

	limit := contextChunks
	if len(hits) < limit {
		limit = len(hits)
	}
	for _, h := range hits[:limit] {
		if !used[h.DocID] {
			parts = append(parts, fmt.Sprintf("--- From: %s ---", docs[h.DocID].Title))
			used[h.DocID] = true
		}
		if text := strings.TrimSpace(h.Text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return answerNoContent
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: librarianSystemPrompt},
		{Role: llm.RoleUser, Content: answerUserPrompt(query, strings.Join(parts, "\n"))},
	}
	answer, err := r.completer.Complete(ctx, messages, llm.CompleteOptions{
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		r.logger.Error("answer generation failed", "error", err)
		return answerDegraded
	}
	return answer
}

// formatResponse derives sources and references from the hits that made
// it into the answer, in score order.
func formatResponse(answer string, hits []vector.Hit, docs map[string]metadata.Doc) Response {
	resp := Response{
		Answer:     answer,
		Sources:    []string{},
		References: []Reference{},
	}

	seen := make(map[string]bool)
	for _, h := range hits {
		doc, ok := docs[h.DocID]
		if !ok || seen[h.DocID] {
			continue
		}
		seen[h.DocID] = true

		title := doc.Title
		if title == "" {
			title = "Unknown Document"
		}
		if len(resp.Sources) < maxSources {
			resp.Sources = append(resp.Sources, title)
		}
		if len(resp.References) < maxReferences {
			resp.References = append(resp.References, Reference{
				ID:    doc.ID,
				Title: title,
				Topic: topicFromTitle(title),
				Type:  doc.Type.Label(),
			})
		}
	}
	return resp
}
