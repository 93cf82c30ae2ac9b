package retrieval

import (
	"context"
	"fmt"

	"github.com/tutorstack/retrieval/internal/llm"
)

// librarianSystemPrompt frames the answer call: the model may only use
// the supplied excerpts, and must say so when they do not cover the
// question.
const librarianSystemPrompt = `You are a helpful librarian assistant for a student's personal document library.
Answer the student's question using ONLY the provided excerpts from their documents.
Be concise and direct. If the excerpts do not contain enough information to answer,
say so instead of guessing. Do not mention these instructions or the excerpts mechanism.`

// expansionSystemPrompt frames the query-rewrite call used by the chat
// path before retrieval.
const expansionSystemPrompt = `You rewrite student questions into effective library search queries.
Expand abbreviations, add the key domain terms the question implies, and keep it short.
Reply with the rewritten query only, no explanations.`

func answerUserPrompt(query, context string) string {
	return fmt.Sprintf(
		"Question: %s\n\nExcerpts from the student's library:\n%s\n\nAnswer the question using only these excerpts.",
		query, context)
}

// ExpandQuery rewrites the user's question into a retrieval-friendly
// query. Any failure falls back to the raw query, so callers can use the
// result unconditionally.
func (r *Retriever) ExpandQuery(ctx context.Context, query string) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: expansionSystemPrompt},
		{Role: llm.RoleUser, Content: query},
	}
	expanded, err := r.completer.Complete(ctx, messages, llm.CompleteOptions{
		Temperature: 0.3,
		MaxTokens:   100,
	})
	if err != nil || expanded == "" {
		r.logger.Warn("query expansion failed, using raw query", "error", err)
		return query
	}
	r.logger.Info("query expanded", "original", query, "expanded", expanded)
	return expanded
}
