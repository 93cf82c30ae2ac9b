package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tutorstack/retrieval/internal/fault"
	"github.com/tutorstack/retrieval/internal/log"
	"github.com/tutorstack/retrieval/internal/retry"
)

func TestNewKeyringRejectsEmptyPool(t *testing.T) {
	for _, keys := range [][]string{nil, {}, {"", ""}} {
		if _, err := NewKeyring(keys); err == nil {
			t.Errorf("NewKeyring(%v) expected error", keys)
		}
	}
}

func TestKeyringRoundRobin(t *testing.T) {
	kr, err := NewKeyring([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("NewKeyring() error: %v", err)
	}

	got := []string{kr.Next(), kr.Next(), kr.Next(), kr.Next()}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rotation[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeyringConcurrentAccess(t *testing.T) {
	kr, err := NewKeyring([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("NewKeyring() error: %v", err)
	}

	const workers, perWorker = 8, 30
	counts := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				k := kr.Next()
				mu.Lock()
				counts[k]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Rotation must spread evenly: 240 draws over 3 keys.
	for _, k := range []string{"a", "b", "c"} {
		if counts[k] != workers*perWorker/3 {
			t.Errorf("key %q drawn %d times, want %d", k, counts[k], workers*perWorker/3)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{
			name: "rate limit",
			err:  &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests},
			want: fault.KindRateLimited,
		},
		{
			name: "server error",
			err:  &openai.APIError{HTTPStatusCode: http.StatusBadGateway},
			want: fault.KindTransient,
		},
		{
			name: "auth failure",
			err:  &openai.APIError{HTTPStatusCode: http.StatusUnauthorized},
			want: fault.KindPermanent,
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: fault.KindTransient,
		},
		{
			name: "unknown",
			err:  errors.New("weird"),
			want: fault.KindPermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fault.KindOf(Classify(tt.err)); got != tt.want {
				t.Errorf("Classify() kind = %v, want %v", got, tt.want)
			}
		})
	}
}

// fakeChatAPI scripts completion responses per call.
type fakeChatAPI struct {
	mu      sync.Mutex
	calls   int
	replies []string
	errs    []error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeChatAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.lastReq = req
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: reply}},
		},
	}, nil
}

func newTestCompleter(t *testing.T, fake *fakeChatAPI) *Completer {
	t.Helper()
	kr, err := NewKeyring([]string{"k1", "k2"})
	if err != nil {
		t.Fatalf("NewKeyring() error: %v", err)
	}
	c := NewCompleter(CompleterConfig{Model: "test-model"}, kr,
		retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, log.NewNop())
	c.newClient = func(string) chatAPI { return fake }
	return c
}

func TestCompleteSuccess(t *testing.T) {
	fake := &fakeChatAPI{replies: []string{"  an answer  "}}
	c := newTestCompleter(t, fake)

	got, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "question"},
	}, CompleteOptions{Temperature: 0.2, MaxTokens: 250})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "an answer" {
		t.Errorf("Complete() = %q, want trimmed reply", got)
	}
	if fake.lastReq.Temperature != 0.2 || fake.lastReq.MaxTokens != 250 {
		t.Errorf("request options not forwarded: %+v", fake.lastReq)
	}
}

func TestCompleteRetriesServerError(t *testing.T) {
	fake := &fakeChatAPI{
		errs:    []error{&openai.APIError{HTTPStatusCode: 500}, nil},
		replies: []string{"", "recovered"},
	}
	c := newTestCompleter(t, fake)

	got, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, CompleteOptions{})
	if err != nil {
		t.Fatalf("Complete() error after recovery: %v", err)
	}
	if got != "recovered" {
		t.Errorf("Complete() = %q, want recovered", got)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2", fake.calls)
	}
}

func TestCompleteDoesNotRetryAuthFailure(t *testing.T) {
	fake := &fakeChatAPI{
		errs: []error{&openai.APIError{HTTPStatusCode: 401}},
	}
	c := newTestCompleter(t, fake)

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, CompleteOptions{})
	if err == nil {
		t.Fatal("Complete() expected error")
	}
	if fake.calls != 1 {
		t.Errorf("auth failure retried: calls = %d, want 1", fake.calls)
	}
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	c := newTestCompleter(t, &fakeChatAPI{})
	_, err := c.Complete(context.Background(), nil, CompleteOptions{})
	if !fault.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
