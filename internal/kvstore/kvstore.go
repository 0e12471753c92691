// Package kvstore provides the durable key-value storage primitive used
// by long-term memory persistence. The SQLite implementation is the
// production backend; the in-memory one serves tests and the
// no-persistence mode.
package kvstore

import "errors"

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a durable key-value store.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases underlying resources.
	Close() error
}
