// Package store persists each project's document as a single opaque text
// blob keyed by the project slug. The store is the sole source of truth:
// callers re-read on every operation and never cache document text.
package store

import (
	"context"
	"errors"
)

// ErrNotFound reports that no document exists yet for a project key.
var ErrNotFound = errors.New("document not found")

// DocumentStore reads and writes whole documents. Writes are atomic at the
// storage boundary so concurrent readers never observe a torn write.
type DocumentStore interface {
	Read(ctx context.Context, slug string) (string, error)
	Write(ctx context.Context, slug, content string) error
}
