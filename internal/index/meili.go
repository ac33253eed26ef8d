package index

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const sectionsEmbedder = "sections"

// Meili is the optional Meilisearch backend. Section vectors are stored as
// userProvided embeddings (one index per project) and queried semantically,
// with the ranking score serving as the similarity.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client. An unreachable server is tolerated:
// the backend reports unhealthy and the caller proceeds on the in-memory
// index until the health monitor observes a recovery.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("index: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
	}

	go m.healthLoop()
	return m
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("index: meilisearch recovered")
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func indexUID(slug string) string {
	return "loopnote_sections_" + slug
}

// Rebuild drops and recreates a project's index from the given sections.
// Meilisearch processes tasks in order, so waiting on the final document
// addition also covers the delete/create/settings tasks before it.
func (m *Meili) Rebuild(slug string, docs []SectionDoc) error {
	uid := indexUID(slug)

	if _, err := m.client.DeleteIndex(uid); err != nil {
		log.Printf("index: delete index %s (may not exist): %v", uid, err)
	}
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: uid, PrimaryKey: "id"}); err != nil {
		return fmt.Errorf("create index %s: %w", uid, err)
	}

	if len(docs) == 0 {
		return nil
	}

	idx := m.client.Index(uid)
	if _, err := idx.UpdateSettings(&meili.Settings{
		Embedders: map[string]meili.Embedder{
			sectionsEmbedder: {
				Source:     "userProvided",
				Dimensions: len(docs[0].Vector),
			},
		},
	}); err != nil {
		return fmt.Errorf("configure embedder for %s: %w", uid, err)
	}

	records := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		records = append(records, map[string]any{
			"id":      doc.ID,
			"heading": doc.Heading,
			"level":   doc.Level,
			"_vectors": map[string]any{
				sectionsEmbedder: doc.Vector,
			},
		})
	}

	task, err := idx.AddDocuments(records, nil)
	if err != nil {
		return fmt.Errorf("add documents to %s: %w", uid, err)
	}
	if err := m.waitForTask(task.TaskUID); err != nil {
		return fmt.Errorf("index rebuild for %s: %w", uid, err)
	}
	return nil
}

func (m *Meili) waitForTask(taskUID int64) error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		task, err := m.client.GetTask(taskUID)
		if err != nil {
			return fmt.Errorf("get task %d: %w", taskUID, err)
		}
		switch task.Status {
		case meili.TaskStatusSucceeded:
			return nil
		case meili.TaskStatusFailed, meili.TaskStatusCanceled:
			return fmt.Errorf("task %d finished with status %s", taskUID, task.Status)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("task %d did not finish in time", taskUID)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Query runs a semantic search (k=1) over a project's sections.
func (m *Meili) Query(slug string, vector []float32) (Match, bool, error) {
	resp, err := m.client.Index(indexUID(slug)).Search("", &meili.SearchRequest{
		Limit:  1,
		Vector: vector,
		Hybrid: &meili.SearchRequestHybrid{
			SemanticRatio: 1.0,
			Embedder:      sectionsEmbedder,
		},
		ShowRankingScore: true,
	})
	if err != nil {
		m.healthy.Store(false)
		return Match{}, false, fmt.Errorf("meilisearch query: %w", err)
	}
	if len(resp.Hits) == 0 {
		return Match{}, false, nil
	}

	hit := resp.Hits[0]
	match := Match{
		SectionID:  decodeString(hit, "id"),
		Heading:    decodeString(hit, "heading"),
		Similarity: clamp01(decodeFloat(hit, "_rankingScore")),
	}
	return match, true, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFloat(hit meili.Hit, key string) float64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	return 0
}
