// Package settings persists the chat and user policy document.
package settings

import (
	"context"
	"sync"

	"github.com/haasonsaas/fedorgpt/internal/policy"
)

// Store gives read and read-modify-write access to the policy document.
//
// Snapshot returns a copy the caller may keep. Update runs fn against the
// current document under the store lock and persists the result before
// returning; if fn or persistence fails nothing changes.
type Store interface {
	Snapshot(ctx context.Context) (policy.Document, error)
	Update(ctx context.Context, fn func(doc *policy.Document) error) error
}

// MemoryStore is a Store without durability.
type MemoryStore struct {
	mu  sync.Mutex
	doc policy.Document
}

// NewMemoryStore creates a store seeded with doc.
func NewMemoryStore(doc policy.Document) *MemoryStore {
	return &MemoryStore{doc: doc.Clone()}
}

// Snapshot returns a copy of the current document.
func (s *MemoryStore) Snapshot(ctx context.Context) (policy.Document, error) {
	if err := ctx.Err(); err != nil {
		return policy.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone(), nil
}

// Update applies fn to a copy and swaps it in on success.
func (s *MemoryStore) Update(ctx context.Context, fn func(doc *policy.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.doc = next
	return nil
}
