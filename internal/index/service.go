package index

import (
	"context"
	"fmt"
	"log"
	"strings"

	"loopnote/api/internal/notes"
)

// Service is the facade over the index backends. The in-memory index is the
// baseline and is always kept current; Meilisearch is layered on when
// configured and healthy. Rebuilding from scratch on every sync trades
// throughput for correctness: the document may have changed since the last
// lookup, and section counts are small enough that re-embedding is cheap
// relative to the synthesis call that follows.
type Service struct {
	embedder Embedder
	memory   *MemoryIndex
	meili    *Meili
}

// NewService creates an index service. meili may be nil when Meilisearch is
// not configured; embedder may be nil when no embedding service is
// configured, in which case every lookup reports no match.
func NewService(embedder Embedder, meili *Meili) *Service {
	return &Service{
		embedder: embedder,
		memory:   NewMemoryIndex(),
		meili:    meili,
	}
}

// Sync re-derives the section set from the document and replaces the
// project's index contents. The document's own top-level title section is
// skipped so fragments never self-match against the document title. Zero
// sections leaves the index empty; that is not an error.
func (s *Service) Sync(ctx context.Context, projectName, slug, content string) error {
	if s.embedder == nil {
		s.memory.Replace(slug, nil)
		return nil
	}

	sections := notes.ParseSections(content)
	docs := make([]SectionDoc, 0, len(sections))
	for _, section := range sections {
		if section.Level == 1 && strings.EqualFold(section.Heading, projectName) {
			continue
		}
		vector, err := s.embedder.Embed(ctx, section.Heading+": "+section.Content)
		if err != nil {
			s.memory.Replace(slug, nil)
			return fmt.Errorf("embed section %q: %w", section.Heading, err)
		}
		docs = append(docs, SectionDoc{
			ID:      section.ID,
			Heading: section.Heading,
			Level:   section.Level,
			Vector:  vector,
		})
	}

	s.memory.Replace(slug, docs)

	if s.meili != nil && s.meili.Healthy() {
		if err := s.meili.Rebuild(slug, docs); err != nil {
			// Memory index already holds the fresh sections; a degraded
			// meilisearch only costs us its backend, not correctness.
			log.Printf("index: meilisearch rebuild for %s: %v", slug, err)
		}
	}
	return nil
}

// FindNearest syncs the index against the current document, then returns the
// single nearest section for the query text. Absence of a match is a valid
// outcome, not an error: lookup failures are logged and reported as no-match.
func (s *Service) FindNearest(ctx context.Context, projectName, slug, content, query string) (Match, bool) {
	if s.embedder == nil {
		return Match{}, false
	}

	if err := s.Sync(ctx, projectName, slug, content); err != nil {
		log.Printf("index: sync %s before lookup: %v", slug, err)
		return Match{}, false
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("index: embed query for %s: %v", slug, err)
		return Match{}, false
	}

	if s.meili != nil && s.meili.Healthy() {
		match, ok, err := s.meili.Query(slug, vector)
		if err == nil {
			return match, ok
		}
		log.Printf("index: meilisearch query for %s, falling back to memory: %v", slug, err)
	}

	return s.memory.Query(slug, vector)
}
