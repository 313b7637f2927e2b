// Package backend implements bytebin's storage-backend abstraction: a
// byte-oriented store for content records, with a local-disk and an
// S3-compatible implementation.
package backend

import (
	"context"
	"errors"

	"github.com/lucko/bytebin/internal/content"
)

// ErrNotFound is returned by Load when the key is absent.
var ErrNotFound = errors.New("backend: not found")

// ErrCorrupt is returned by Load when a stored record cannot be decoded
// (truncated file, bad header, unreadable object metadata). Callers should
// treat a corrupt record the same way as an expired one.
var ErrCorrupt = errors.New("backend: corrupt record")

// VisitFunc is called once per metadata-only record (or error) while
// listing a backend's contents. Returning a non-nil error stops the walk.
type VisitFunc func(*content.Record, error) error

// Backend is the capability set every storage backend implements. Reads
// never populate metadata the backend doesn't itself own; the coordinator
// is responsible for tracking which backend currently holds a given key.
type Backend interface {
	// ID returns the backend's stable identifier, stored on each record
	// so the coordinator can route reads back to the correct backend.
	ID() string

	// Load reads a full record (metadata + bytes) by key. Returns
	// ErrNotFound if absent, ErrCorrupt if unreadable.
	Load(ctx context.Context, key string) (*content.Record, error)

	// Save persists a record's metadata and bytes.
	Save(ctx context.Context, rec *content.Record) error

	// Delete removes a record by key. Deleting an absent key is not an
	// error: callers may race a concurrent delete or a prior partial
	// failure.
	Delete(ctx context.Context, key string) error

	// List streams metadata for every record in the backend (bytes
	// absent), calling visit once per record or decode error.
	List(ctx context.Context, visit VisitFunc) error

	// ListKeys streams just the keys, more cheaply than List where the
	// backend can enumerate without reading full metadata.
	ListKeys(ctx context.Context, visit func(key string) error) error
}
