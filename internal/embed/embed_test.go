package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/goleak"

	"github.com/tutorstack/retrieval/internal/fault"
	"github.com/tutorstack/retrieval/internal/llm"
	"github.com/tutorstack/retrieval/internal/log"
	"github.com/tutorstack/retrieval/internal/metadata"
	"github.com/tutorstack/retrieval/internal/retry"
)

// fakeEmbeddingAPI fails for configured inputs and records concurrency.
type fakeEmbeddingAPI struct {
	mu         sync.Mutex
	failFor    map[string]error
	failTimes  map[string]int // fail the input this many times, then succeed
	inFlight   int
	maxSeen    int
	lastInputs []string
}

func (f *fakeEmbeddingAPI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	req, ok := conv.(openai.EmbeddingRequest)
	if !ok {
		return openai.EmbeddingResponse{}, fmt.Errorf("unexpected request type %T", conv)
	}
	input := req.Input.([]string)[0]

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.lastInputs = append(f.lastInputs, input)
	err := f.failFor[input]
	if err == nil && f.failTimes[input] > 0 {
		f.failTimes[input]--
		err = &openai.APIError{HTTPStatusCode: 429}
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if err != nil {
		return openai.EmbeddingResponse{}, err
	}
	return openai.EmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}},
	}, nil
}

func newTestClient(t *testing.T, fake *fakeEmbeddingAPI, cfg Config) *Client {
	t.Helper()
	kr, err := llm.NewKeyring([]string{"key-a", "key-b"})
	if err != nil {
		t.Fatalf("NewKeyring() error: %v", err)
	}
	c := New(cfg, kr, retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, log.NewNop())
	c.newClient = func(string) embeddingAPI { return fake }
	return c
}

func ref() ChunkRef {
	return ChunkRef{UserID: "user-1", DocID: "doc-1", DocType: metadata.DocTypeBook}
}

func TestEmbedChunksPartialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	chunks := make([]string, 10)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("chunk %d", i)
	}
	fake := &fakeEmbeddingAPI{failFor: map[string]error{
		"chunk 3": &openai.APIError{HTTPStatusCode: 401},
		"chunk 7": &openai.APIError{HTTPStatusCode: 401},
	}}
	c := newTestClient(t, fake, Config{Model: "m"})

	got, err := c.EmbedChunks(context.Background(), chunks, ref())
	if err != nil {
		t.Fatalf("EmbedChunks() error: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("len(results) = %d, want 8", len(got))
	}
	wantIdx := []int{0, 1, 2, 4, 5, 6, 8, 9}
	for i, e := range got {
		if e.Metadata.ChunkIndex != wantIdx[i] {
			t.Errorf("result %d has chunk_index %d, want %d", i, e.Metadata.ChunkIndex, wantIdx[i])
		}
	}
}

func TestEmbedChunksPreservesMetadata(t *testing.T) {
	fake := &fakeEmbeddingAPI{}
	c := newTestClient(t, fake, Config{Model: "m"})

	got, err := c.EmbedChunks(context.Background(), []string{"hello world"}, ref())
	if err != nil {
		t.Fatalf("EmbedChunks() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(got))
	}
	m := got[0].Metadata
	if m.UserID != "user-1" || m.DocID != "doc-1" || m.DocType != metadata.DocTypeBook {
		t.Errorf("metadata ref fields wrong: %+v", m)
	}
	if m.ChunkText != "hello world" || m.ChunkLength != len("hello world") {
		t.Errorf("metadata text fields wrong: %+v", m)
	}
}

func TestEmbedChunksConcurrencyCap(t *testing.T) {
	defer goleak.VerifyNone(t)

	chunks := make([]string, 20)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("chunk %d", i)
	}
	fake := &fakeEmbeddingAPI{}
	c := newTestClient(t, fake, Config{Model: "m", MaxConcurrent: 3})

	if _, err := c.EmbedChunks(context.Background(), chunks, ref()); err != nil {
		t.Fatalf("EmbedChunks() error: %v", err)
	}
	if fake.maxSeen > 3 {
		t.Errorf("observed %d concurrent requests, cap is 3", fake.maxSeen)
	}
}

func TestEmbedChunksValidation(t *testing.T) {
	c := newTestClient(t, &fakeEmbeddingAPI{}, Config{Model: "m"})

	if _, err := c.EmbedChunks(context.Background(), []string{"x"}, ChunkRef{DocID: "d"}); !fault.IsValidation(err) {
		t.Errorf("missing user id: got %v, want validation error", err)
	}
	if _, err := c.EmbedChunks(context.Background(), []string{"x"}, ChunkRef{UserID: "u"}); !fault.IsValidation(err) {
		t.Errorf("missing doc id: got %v, want validation error", err)
	}

	got, err := c.EmbedChunks(context.Background(), nil, ref())
	if err != nil || got != nil {
		t.Errorf("empty batch: got (%v, %v), want (nil, nil)", got, err)
	}
}

func TestEmbedChunksRetriesRateLimit(t *testing.T) {
	fake := &fakeEmbeddingAPI{failTimes: map[string]int{"retry me": 1}}
	c := newTestClient(t, fake, Config{Model: "m"})

	got, err := c.EmbedChunks(context.Background(), []string{"retry me"}, ref())
	if err != nil {
		t.Fatalf("EmbedChunks() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(results) = %d, want 1 after retry", len(got))
	}
	if n := len(fake.lastInputs); n != 2 {
		t.Errorf("embedding service called %d times, want 2", n)
	}
}

func TestEmbedQueryValidation(t *testing.T) {
	c := newTestClient(t, &fakeEmbeddingAPI{}, Config{Model: "m"})
	if _, err := c.EmbedQuery(context.Background(), "   "); !fault.IsValidation(err) {
		t.Errorf("blank query: got %v, want validation error", err)
	}
}

func TestEmbedQueryTruncatesLongInput(t *testing.T) {
	fake := &fakeEmbeddingAPI{}
	c := newTestClient(t, fake, Config{Model: "m", TruncateRunes: 20})

	long := strings.Repeat("word ", 50)
	if _, err := c.EmbedQuery(context.Background(), long); err != nil {
		t.Fatalf("EmbedQuery() error: %v", err)
	}
	sent := fake.lastInputs[0]
	if len([]rune(sent)) > 20 {
		t.Errorf("sent input of %d runes, budget is 20", len([]rune(sent)))
	}
	if strings.HasSuffix(sent, "wor") {
		t.Errorf("truncation split a word: %q", sent)
	}
}

func TestTruncateAtWord(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{name: "fits", text: "short", limit: 10, want: "short"},
		{name: "cuts at word", text: "alpha beta gamma", limit: 12, want: "alpha beta"},
		{name: "no spaces hard cut", text: "abcdefghij", limit: 4, want: "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateAtWord(tt.text, tt.limit); got != tt.want {
				t.Errorf("truncateAtWord() = %q, want %q", got, tt.want)
			}
		})
	}
}
