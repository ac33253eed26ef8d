package index

import (
	"math"
	"sync"
)

// MemoryIndex is the always-available in-process backend: a per-project set
// of section vectors queried by brute-force cosine similarity. Section counts
// are document-scale (tens), so linear scan is fine.
type MemoryIndex struct {
	mu          sync.Mutex
	collections map[string][]SectionDoc
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string][]SectionDoc)}
}

// Replace swaps in the full section set for a project.
func (m *MemoryIndex) Replace(slug string, docs []SectionDoc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[slug] = docs
}

// Query returns the nearest section for a vector, or false when the project's
// collection is empty.
func (m *MemoryIndex) Query(slug string, vector []float32) (Match, bool) {
	m.mu.Lock()
	docs := m.collections[slug]
	m.mu.Unlock()

	best := Match{Similarity: -1}
	for _, doc := range docs {
		sim := cosineSimilarity(vector, doc.Vector)
		if sim > best.Similarity {
			best = Match{SectionID: doc.ID, Heading: doc.Heading, Similarity: sim}
		}
	}
	if best.SectionID == "" {
		return Match{}, false
	}
	best.Similarity = clamp01(best.Similarity)
	return best, true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
