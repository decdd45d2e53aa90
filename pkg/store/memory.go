package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"outreach-policy-engine/pkg/models"
)

// MemoryStore keeps states in process. Writes to one user are serialized by
// a per-user mutex; different users proceed in parallel.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*models.ContactState
	locks  map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*models.ContactState),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.ContactState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return state.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, state *models.ContactState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[state.UserID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, state.UserID)
	}
	s.states[state.UserID] = state.Clone()
	s.locks[state.UserID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, userID string, fn UpdateFunc) (*models.ContactState, error) {
	return s.mutate(ctx, userID, fn, Override{})
}

func (s *MemoryStore) Override(ctx context.Context, userID string, override Override) (*models.ContactState, error) {
	fn, err := overrideFunc(override)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, fn, override)
}

func (s *MemoryStore) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) mutate(ctx context.Context, userID string, fn UpdateFunc, allowed Override) (*models.ContactState, error) {
	s.mu.RLock()
	lock, ok := s.locks[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	before := s.states[userID]
	s.mu.RUnlock()

	after := before.Clone()
	if err := fn(after); err != nil {
		if errors.Is(err, ErrNoChange) {
			return before.Clone(), nil
		}
		return nil, err
	}
	if err := checkTransition(before, after, allowed); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.states[userID] = after.Clone()
	s.mu.Unlock()

	return after, nil
}
