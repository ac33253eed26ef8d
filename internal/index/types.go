// Package index maintains the per-project nearest-neighbor index over
// section embeddings. The index is rebuilt from the document on every lookup:
// the document store is the source of truth and the index is always derived
// state, never authoritative.
package index

import "context"

// Match is the nearest section found for a query fragment. Similarity is
// normalized to [0,1]; higher is closer.
type Match struct {
	SectionID  string
	Heading    string
	Similarity float64
}

// Embedder turns text into a fixed-length vector. Implementations must be
// deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SectionDoc is one indexed section with its embedding.
type SectionDoc struct {
	ID      string
	Heading string
	Level   int
	Vector  []float32
}
