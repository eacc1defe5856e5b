package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

// MemoryStore is an in-process arena keyed by workload identity with the
// same compare-and-swap semantics as the durable backends. It backs dry
// runs and tests; state does not survive the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Healing
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Healing)}
}

// Load returns the stored record, lazily initializing attempt 0.
func (s *MemoryStore) Load(_ context.Context, ref workload.Ref) (Healing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.records[ref.String()]; ok {
		return h, nil
	}
	return Healing{Ref: ref, LastAction: ActionNone}, nil
}

// Save writes h if its token still matches the stored one; a fresh record
// expects an empty token.
func (s *MemoryStore) Save(_ context.Context, h Healing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := h.Ref.String()
	cur, seen := s.records[key]
	if seen && cur.Token != h.Token {
		return fmt.Errorf("updating %s: %w", h.Ref, ErrConflict)
	}
	if !seen && h.Token != "" {
		return fmt.Errorf("updating %s: %w", h.Ref, ErrConflict)
	}

	h.Token = uuid.New().String()
	s.records[key] = h
	return nil
}

var _ Store = (*MemoryStore)(nil)
