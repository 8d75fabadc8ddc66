package store

import (
	"fmt"
	"sync"
)

// InMemoryStore is a Store backed by a map. It is safe for concurrent use.
type InMemoryStore[T any] struct {
	mu sync.RWMutex
	Db map[string]T
}

func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{
		Db: make(map[string]T),
	}
}

func (i *InMemoryStore[T]) Put(key string, value T) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Db[key] = value

	return nil
}

func (i *InMemoryStore[T]) Get(key string) (T, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	v, ok := i.Db[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return v, nil
}

func (i *InMemoryStore[T]) Delete(key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.Db[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(i.Db, key)

	return nil
}

func (i *InMemoryStore[T]) List() ([]T, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	values := make([]T, 0, len(i.Db))
	for _, v := range i.Db {
		values = append(values, v)
	}

	return values, nil
}

func (i *InMemoryStore[T]) Count() (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.Db), nil
}

// Replace swaps the whole content for values, keyed by key(value).
func (i *InMemoryStore[T]) Replace(values []T, key func(T) string) {
	db := make(map[string]T, len(values))
	for _, v := range values {
		db[key(v)] = v
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.Db = db
}
