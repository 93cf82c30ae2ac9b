package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tutorstack/retrieval/internal/chunk"
	"github.com/tutorstack/retrieval/internal/embed"
	"github.com/tutorstack/retrieval/internal/fault"
	"github.com/tutorstack/retrieval/internal/log"
	"github.com/tutorstack/retrieval/internal/metadata"
	"github.com/tutorstack/retrieval/internal/retrieval"
	"github.com/tutorstack/retrieval/internal/vector"
)

type fakeChunker struct {
	chunks []string
	err    error
}

func (f *fakeChunker) Split(string, chunk.Options) ([]string, error) {
	return f.chunks, f.err
}

type fakeEmbedder struct {
	err     error
	skipAll bool
	lastRef embed.ChunkRef
}

func (f *fakeEmbedder) EmbedChunks(_ context.Context, chunks []string, ref embed.ChunkRef) ([]embed.Embedded, error) {
	f.lastRef = ref
	if f.err != nil {
		return nil, f.err
	}
	if f.skipAll {
		return nil, nil
	}
	out := make([]embed.Embedded, len(chunks))
	for i, c := range chunks {
		out[i] = embed.Embedded{
			Vector: []float32{0.1, 0.2},
			Metadata: embed.Metadata{
				UserID:     ref.UserID,
				DocID:      ref.DocID,
				DocType:    ref.DocType,
				ChunkIndex: i,
				ChunkText:  c,
			},
		}
	}
	return out, nil
}

type fakeIndexer struct {
	upserted  []vector.Point
	upsertErr error
	deleteErr error
	deleted   []string
}

func (f *fakeIndexer) Upsert(_ context.Context, points []vector.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeIndexer) DeleteCollection(_ context.Context, userID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, userID)
	return nil
}

type fakeSearcher struct {
	hits []vector.Hit
}

func (f *fakeSearcher) Search(context.Context, []float32, string, int) ([]vector.Hit, error) {
	return f.hits, nil
}

type fakeRetriever struct {
	resp retrieval.Response
}

func (f *fakeRetriever) SearchLibrary(context.Context, retrieval.Params) (retrieval.Response, error) {
	return f.resp, nil
}

func (f *fakeRetriever) ExpandQuery(_ context.Context, query string) string {
	return query
}

type fakeLister struct {
	ids map[string]metadata.DocType
	err error
}

func (f *fakeLister) DocumentIDs(context.Context, string) (map[string]metadata.DocType, error) {
	return f.ids, f.err
}

type fakeInvalidator struct {
	keys []string
	err  error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, docID string, docType metadata.DocType) error {
	f.keys = append(f.keys, docType.String()+":"+docID)
	return f.err
}

type deps struct {
	chunker     *fakeChunker
	embedder    *fakeEmbedder
	index       *fakeIndexer
	searcher    *fakeSearcher
	retriever   *fakeRetriever
	lister      *fakeLister
	invalidator *fakeInvalidator
}

func newPipeline(d deps) *Pipeline {
	if d.chunker == nil {
		d.chunker = &fakeChunker{chunks: []string{"one", "two"}}
	}
	if d.embedder == nil {
		d.embedder = &fakeEmbedder{}
	}
	if d.index == nil {
		d.index = &fakeIndexer{}
	}
	if d.searcher == nil {
		d.searcher = &fakeSearcher{}
	}
	if d.retriever == nil {
		d.retriever = &fakeRetriever{}
	}
	if d.lister == nil {
		d.lister = &fakeLister{}
	}
	if d.invalidator == nil {
		d.invalidator = &fakeInvalidator{}
	}
	return New(Config{
		Chunker:   d.chunker,
		Embedder:  d.embedder,
		Index:     d.index,
		Searcher:  d.searcher,
		Retriever: d.retriever,
		Store:     d.lister,
		Cache:     d.invalidator,
	}, log.NewNop())
}

func TestIngestDocument(t *testing.T) {
	index := &fakeIndexer{}
	embedder := &fakeEmbedder{}
	p := newPipeline(deps{index: index, embedder: embedder})

	res, err := p.IngestDocument(context.Background(), "some text", "u1", "d1", metadata.DocTypeBook)
	if err != nil {
		t.Fatalf("IngestDocument() error: %v", err)
	}
	if res.Chunks != 2 || res.Embedded != 2 || res.Stored != 2 {
		t.Errorf("result = %+v", res)
	}
	if embedder.lastRef != (embed.ChunkRef{UserID: "u1", DocID: "d1", DocType: metadata.DocTypeBook}) {
		t.Errorf("chunk ref = %+v", embedder.lastRef)
	}
	if len(index.upserted) != 2 {
		t.Fatalf("upserted %d points", len(index.upserted))
	}
	pt := index.upserted[1]
	if pt.UserID != "u1" || pt.DocID != "d1" || pt.ChunkIndex != 1 || pt.ChunkText != "two" {
		t.Errorf("point = %+v", pt)
	}
}

func TestIngestDocumentInvalidType(t *testing.T) {
	p := newPipeline(deps{})
	if _, err := p.IngestDocument(context.Background(), "text", "u1", "d1", metadata.DocType(0)); !fault.IsValidation(err) {
		t.Errorf("error = %v, want validation failure", err)
	}
}

func TestIngestDocumentPropagatesFailures(t *testing.T) {
	chunkErr := fault.Validationf("text is empty")
	embedErr := errors.New("embedding service down")
	upsertErr := errors.New("index down")

	tests := []struct {
		name string
		d    deps
		want error
	}{
		{name: "chunker", d: deps{chunker: &fakeChunker{err: chunkErr}}, want: chunkErr},
		{name: "embedder", d: deps{embedder: &fakeEmbedder{err: embedErr}}, want: embedErr},
		{name: "index", d: deps{index: &fakeIndexer{upsertErr: upsertErr}}, want: upsertErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(tt.d)
			_, err := p.IngestDocument(context.Background(), "text", "u1", "d1", metadata.DocTypeNotes)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want wrapped %v", err, tt.want)
			}
		})
	}
}

func TestIngestDocumentAllChunksSkipped(t *testing.T) {
	p := newPipeline(deps{embedder: &fakeEmbedder{skipAll: true}})

	_, err := p.IngestDocument(context.Background(), "text", "u1", "d1", metadata.DocTypeBook)
	if err == nil || !strings.Contains(err.Error(), "no chunks") {
		t.Errorf("error = %v, want embedding exhaustion failure", err)
	}
}

func TestSearchSimilarChunksDelegates(t *testing.T) {
	searcher := &fakeSearcher{hits: []vector.Hit{{Text: "hit", Score: 0.8}}}
	p := newPipeline(deps{searcher: searcher})

	hits, err := p.SearchSimilarChunks(context.Background(), []float32{0.1}, "u1", 5)
	if err != nil || len(hits) != 1 {
		t.Errorf("SearchSimilarChunks() = (%v, %v)", hits, err)
	}
}

func TestPurgeUser(t *testing.T) {
	index := &fakeIndexer{}
	lister := &fakeLister{ids: map[string]metadata.DocType{
		"b1": metadata.DocTypeBook,
		"n1": metadata.DocTypeNotes,
	}}
	invalidator := &fakeInvalidator{}
	p := newPipeline(deps{index: index, lister: lister, invalidator: invalidator})

	if err := p.PurgeUser(context.Background(), "u1"); err != nil {
		t.Fatalf("PurgeUser() error: %v", err)
	}
	if len(index.deleted) != 1 || index.deleted[0] != "u1" {
		t.Errorf("deleted collections = %v", index.deleted)
	}
	if len(invalidator.keys) != 2 {
		t.Errorf("invalidated keys = %v, want both documents", invalidator.keys)
	}
}

func TestPurgeUserNoCollection(t *testing.T) {
	index := &fakeIndexer{deleteErr: vector.ErrCollectionNotFound}
	p := newPipeline(deps{index: index})

	if err := p.PurgeUser(context.Background(), "u1"); err != nil {
		t.Errorf("PurgeUser() error for absent collection: %v", err)
	}
}

func TestPurgeUserIndexFailure(t *testing.T) {
	index := &fakeIndexer{deleteErr: errors.New("index down")}
	p := newPipeline(deps{index: index})

	if err := p.PurgeUser(context.Background(), "u1"); err == nil {
		t.Error("PurgeUser() swallowed an index failure")
	}
}

func TestPurgeUserValidation(t *testing.T) {
	p := newPipeline(deps{})
	if err := p.PurgeUser(context.Background(), ""); !fault.IsValidation(err) {
		t.Errorf("error = %v, want validation failure", err)
	}
}
