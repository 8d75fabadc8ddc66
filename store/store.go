package store

import "errors"

var ErrNotFound = errors.New("key does not exist")

// Store is a keyed collection of records.
type Store[T any] interface {
	Put(key string, value T) error
	Get(key string) (T, error)
	Delete(key string) error
	List() ([]T, error)
	Count() (int, error)
}
