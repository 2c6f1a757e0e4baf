// Package memory provides an in-memory implementation of drinks.Store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ggoodman/drinkshop/drinks"
)

// Store implements drinks.Store with maps guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]drinks.Drink
	titles map[string]int64
}

var _ drinks.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID: 1,
		byID:   make(map[int64]drinks.Drink),
		titles: make(map[string]int64),
	}
}

func (s *Store) List(ctx context.Context) ([]drinks.Drink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]drinks.Drink, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, clone(d))
	}
	slices.SortFunc(out, func(a, b drinks.Drink) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (drinks.Drink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[id]
	if !ok {
		return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	return clone(d), nil
}

func (s *Store) Create(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	d, err := drinks.Prepare(d)
	if err != nil {
		return drinks.Drink{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.titles[d.Title]; taken {
		return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrDuplicateTitle, d.Title)
	}
	d.ID = s.nextID
	s.nextID++
	s.byID[d.ID] = d
	s.titles[d.Title] = d.ID
	return clone(d), nil
}

func (s *Store) Update(ctx context.Context, id int64, p drinks.Patch) (drinks.Drink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	next, err := drinks.Prepare(p.Apply(cur))
	if err != nil {
		return drinks.Drink{}, err
	}
	if owner, taken := s.titles[next.Title]; taken && owner != id {
		return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrDuplicateTitle, next.Title)
	}
	delete(s.titles, cur.Title)
	s.titles[next.Title] = id
	s.byID[id] = next
	return clone(next), nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	delete(s.byID, id)
	delete(s.titles, d.Title)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func clone(d drinks.Drink) drinks.Drink {
	d.Recipe = append([]drinks.Ingredient(nil), d.Recipe...)
	return d
}
