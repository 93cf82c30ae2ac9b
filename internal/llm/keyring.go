package llm

import (
	"sync"

	"github.com/tutorstack/retrieval/internal/fault"
)

// Keyring rotates outbound credentials in round-robin order so request
// load spreads across the per-key rate limits of the upstream provider.
// It is the only process-wide mutable state on the write path and is
// safe for concurrent use.
type Keyring struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewKeyring builds a Keyring from the configured key pool. Blank entries
// are dropped; an empty pool is a validation error.
func NewKeyring(keys []string) (*Keyring, error) {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, fault.Validationf("credential pool is empty")
	}
	return &Keyring{keys: cleaned}, nil
}

// Next returns the next credential in rotation.
func (r *Keyring) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.keys[r.next]
	r.next = (r.next + 1) % len(r.keys)
	return key
}

// Size reports the number of credentials in the pool.
func (r *Keyring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
