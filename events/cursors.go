package events

import (
	"context"
	"sync"

	"github.com/luno/reflex"
)

// NewCursorStore returns an in-memory reflex cursor store for consumers of
// the event log.
func NewCursorStore() reflex.CursorStore {
	return &cursorStore{cursors: make(map[string]string)}
}

type cursorStore struct {
	mu      sync.Mutex
	cursors map[string]string
}

func (s *cursorStore) GetCursor(_ context.Context, consumerName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursors[consumerName], nil
}

func (s *cursorStore) SetCursor(_ context.Context, consumerName string, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[consumerName] = cursor

	return nil
}

func (s *cursorStore) Flush(context.Context) error {
	return nil
}
