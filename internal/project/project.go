// Package project owns per-project mutable state: the rolling transcript log,
// the rolling context buffer, and the list of pending updates awaiting a human
// decision. Projects are created lazily on first reference and live for the
// process lifetime.
package project

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	transcriptLogCap = 20
	contextCap       = 5
)

// PendingUpdate is a fragment whose disposition needs human confirmation
// before any document mutation happens.
type PendingUpdate struct {
	ID              string  `json:"id"`
	Transcript      string  `json:"transcript"`
	MatchedSection  string  `json:"matched_section,omitempty"`
	Similarity      float64 `json:"similarity"`
	SuggestedAction string  `json:"suggested_action"`
	Reason          string  `json:"reason"`
	Timestamp       string  `json:"timestamp"`
}

// TranscriptEntry is one received fragment with its arrival time.
type TranscriptEntry struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// State holds everything owned by a single project.
type State struct {
	Name string
	Slug string

	mu         sync.Mutex
	transcript []TranscriptEntry
	context    []string
	pending    []PendingUpdate
}

// Registry is the process-wide project table.
type Registry struct {
	mu       sync.Mutex
	projects map[string]*State
}

func NewRegistry() *Registry {
	return &Registry{projects: make(map[string]*State)}
}

// Get returns the state for a project name, creating it on first reference.
func (r *Registry) Get(name string) *State {
	slug := Slugify(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.projects[slug]; ok {
		return st
	}
	st := &State{Name: name, Slug: slug}
	r.projects[slug] = st
	return st
}

// AppendTranscript records a fragment in the rolling log, keeping the last 20.
func (s *State) AppendTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{
		Text:      text,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if len(s.transcript) > transcriptLogCap {
		s.transcript = s.transcript[len(s.transcript)-transcriptLogCap:]
	}
}

// RecentTranscript returns up to n most recent log entries, oldest first.
func (s *State) RecentTranscript(n int) []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.transcript) - n
	if start < 0 {
		start = 0
	}
	out := make([]TranscriptEntry, len(s.transcript)-start)
	copy(out, s.transcript[start:])
	return out
}

// PushContext appends a fragment to the rolling context buffer (last 5) and
// returns the combined context of the chunks that preceded it.
func (s *State) PushContext(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := s.context
	if len(prior) > 3 {
		prior = prior[len(prior)-3:]
	}
	combined := strings.Join(prior, " ")
	s.context = append(s.context, text)
	if len(s.context) > contextCap {
		s.context = s.context[len(s.context)-contextCap:]
	}
	return combined
}

// AddPending appends a pending update.
func (s *State) AddPending(p PendingUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, p)
}

// FindPending looks up a pending update by id. O(n), but pending lists are
// human-scale.
func (s *State) FindPending(id string) (PendingUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.ID == id {
			return p, true
		}
	}
	return PendingUpdate{}, false
}

// RemovePending deletes a pending update by id, reporting whether it existed.
func (s *State) RemovePending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns a snapshot of the pending list.
func (s *State) Pending() []PendingUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingUpdate, len(s.pending))
	copy(out, s.pending)
	return out
}

// Clear drops the transcript log, context buffer and pending list.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = nil
	s.context = nil
	s.pending = nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a project name to a filesystem- and URL-safe key.
func Slugify(name string) string {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	cleaned = strings.Trim(slugPattern.ReplaceAllString(cleaned, "-"), "-")
	if cleaned == "" {
		return "default"
	}
	return cleaned
}

// ResolveName falls back to the default project when the caller did not name one.
func ResolveName(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
