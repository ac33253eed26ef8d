// Package app wires the pipeline together: intake queue, intent gate, section
// index, synthesis, persistence, snapshots and change fan-out. Every document
// mutation runs on the queue worker goroutine, so the pipeline never has two
// writes in flight for the same project.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"loopnote/api/internal/ai"
	"loopnote/api/internal/config"
	"loopnote/api/internal/export"
	"loopnote/api/internal/gitrepo"
	"loopnote/api/internal/index"
	"loopnote/api/internal/notes"
	"loopnote/api/internal/project"
	"loopnote/api/internal/queue"
	"loopnote/api/internal/store"
	"loopnote/api/internal/stream"
	"loopnote/api/internal/synth"
)

// Decisions a client may return for a pending update.
const (
	DecisionApprove       = "approve"
	DecisionReject        = "reject"
	DecisionUpdateSection = "update_section"
	DecisionCreateNew     = "create_new"
)

var (
	ErrPendingNotFound = errors.New("pending update not found")
	ErrUnknownDecision = errors.New("unknown decision")
)

type documentStore interface {
	Read(ctx context.Context, slug string) (string, error)
	Write(ctx context.Context, slug, content string) error
}

type sectionIndex interface {
	Sync(ctx context.Context, projectName, slug, content string) error
	FindNearest(ctx context.Context, projectName, slug, content, query string) (index.Match, bool)
}

type synthesizer interface {
	Synthesize(ctx context.Context, current, targetSection, transcript, action, prevContext string) (string, synth.ChangeSummary)
}

type transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

type snapshotter interface {
	Snapshot(slug, content, message string) (gitrepo.CommitInfo, error)
	History(slug string, limit int) ([]gitrepo.CommitInfo, error)
	ContentAt(slug, hash string) (string, error)
}

// ProcessResult is the structured outcome of one pipeline run, stored in the
// queue result table and returned to synchronous callers.
type ProcessResult struct {
	Status          string               `json:"status"`
	Action          string               `json:"action,omitempty"`
	Section         string               `json:"section,omitempty"`
	Similarity      float64              `json:"similarity,omitempty"`
	ChangeInfo      *synth.ChangeSummary `json:"change_info,omitempty"`
	PendingID       string               `json:"pending_id,omitempty"`
	Reason          string               `json:"reason,omitempty"`
	SuggestedAction string               `json:"suggested_action,omitempty"`
	MatchedSection  string               `json:"matched_section,omitempty"`
}

// NotesView is the read-model for a project: current document plus derived
// sections plus undecided pending updates.
type NotesView struct {
	Project  string                  `json:"project"`
	Slug     string                  `json:"slug"`
	Content  string                  `json:"content"`
	Sections []notes.Section         `json:"sections"`
	Pending  []project.PendingUpdate `json:"pending_updates"`
}

// Service is the pipeline orchestrator.
type Service struct {
	cfg       config.Config
	projects  *project.Registry
	docs      documentStore
	index     sectionIndex
	synth     synthesizer
	speech    transcriber
	snapshots snapshotter
	hub       *stream.Hub
	worker    *queue.Worker
}

// NewService assembles the orchestrator. speech and snapshots may be nil when
// the corresponding backend is not configured; results nil means the
// in-memory result table.
func NewService(cfg config.Config, docs documentStore, idx sectionIndex, syn synthesizer, speech transcriber, snapshots snapshotter, hub *stream.Hub, results queue.ResultStore) *Service {
	s := &Service{
		cfg:       cfg,
		projects:  project.NewRegistry(),
		docs:      docs,
		index:     idx,
		synth:     syn,
		speech:    speech,
		snapshots: snapshots,
		hub:       hub,
	}
	s.worker = queue.NewWorker(s.processItem, results)
	return s
}

// Start launches the intake worker.
func (s *Service) Start() { s.worker.Start() }

// Stop drains the intake worker, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error { return s.worker.Stop(ctx) }

// Process enqueues a text fragment and waits for its result. Ordering still
// comes from the queue: the call blocks until the single worker reaches this
// item, so concurrent callers are applied strictly in intake order.
// prevContext overrides the rolling context buffer when non-empty.
func (s *Service) Process(ctx context.Context, text, projectName string, chunk int, prevContext string) (string, queue.Result, error) {
	name := project.ResolveName(projectName, s.cfg.DefaultProject)
	requestID, done, err := s.worker.EnqueueWait(ctx, text, name, chunk, prevContext)
	if err != nil {
		return "", queue.Result{}, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return requestID, queue.Result{}, fmt.Errorf("wait for processing: %w", ctx.Err())
	}
	res, ok := s.worker.Status(ctx, requestID)
	if !ok {
		return requestID, queue.Result{}, fmt.Errorf("result for %s evicted before read", requestID)
	}
	return requestID, res, nil
}

// Enqueue pushes a fragment without waiting (the audio path).
func (s *Service) Enqueue(ctx context.Context, text, projectName string, chunk int) (string, error) {
	name := project.ResolveName(projectName, s.cfg.DefaultProject)
	return s.worker.Enqueue(ctx, text, name, chunk, "")
}

// ProcessAudio transcribes an audio blob and enqueues the resulting text.
// Returns the transcription and the queued request id.
func (s *Service) ProcessAudio(ctx context.Context, audio []byte, projectName string, chunk int) (string, string, error) {
	if s.speech == nil {
		return "", "", fmt.Errorf("transcription not configured")
	}
	text := s.speech.Transcribe(ctx, audio)
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("transcription produced no text")
	}
	requestID, err := s.Enqueue(ctx, text, projectName, chunk)
	if err != nil {
		return text, "", err
	}
	return text, requestID, nil
}

// QueueStatus returns the stored result for a request id.
func (s *Service) QueueStatus(ctx context.Context, requestID string) (queue.Result, bool) {
	return s.worker.Status(ctx, requestID)
}

// processItem is the queue worker's ProcessFunc.
func (s *Service) processItem(ctx context.Context, item queue.Item) (any, error) {
	st := s.projects.Get(item.Project)
	return s.applyTranscript(ctx, st, item.Text, item.PrevContext)
}

// applyTranscript runs the full pipeline for one fragment. It only returns an
// error when the document could not be read or written; every softer failure
// (index down, rewrite service down) degrades inside the stage that owns it.
func (s *Service) applyTranscript(ctx context.Context, st *project.State, text, prevContext string) (ProcessResult, error) {
	rolled := st.PushContext(text)
	if prevContext == "" {
		prevContext = rolled
	}
	st.AppendTranscript(text)

	content, err := s.document(ctx, st)
	if err != nil {
		return ProcessResult{}, err
	}

	match, ok := s.index.FindNearest(ctx, st.Name, st.Slug, content, text)
	hasMatch := ok && match.Similarity >= s.cfg.SimilarityThreshold
	log.Printf("app: fragment project=%s match=%q similarity=%.3f", st.Slug, match.Heading, match.Similarity)

	if ambiguous, reason := ai.DetectAmbiguity(text); ambiguous {
		return s.holdPending(st, text, match, hasMatch, reason), nil
	}

	action := synth.ActionCreate
	target := ""
	if hasMatch {
		action = synth.ActionUpdate
		target = match.Heading
	}

	newContent, changeInfo := s.synth.Synthesize(ctx, content, target, text, action, prevContext)
	if err := s.docs.Write(ctx, st.Slug, newContent); err != nil {
		return ProcessResult{}, fmt.Errorf("write document %s: %w", st.Slug, err)
	}

	s.snapshot(st.Slug, newContent, snapshotMessage(action, changeInfo.TargetSection))
	s.resyncIndex(ctx, st, newContent)
	s.broadcastFileUpdated(st.Slug, newContent, action, changeInfo)

	result := ProcessResult{
		Status:     "success",
		Action:     action,
		Section:    changeInfo.TargetSection,
		ChangeInfo: &changeInfo,
	}
	if hasMatch {
		result.Similarity = match.Similarity
	}
	return result, nil
}

// holdPending parks an ambiguous fragment for human confirmation. No document
// mutation happens here.
func (s *Service) holdPending(st *project.State, text string, match index.Match, hasMatch bool, reason string) ProcessResult {
	suggested := synth.ActionCreate
	matched := ""
	if hasMatch {
		suggested = synth.ActionUpdate
		matched = match.Heading
	}

	pend := project.PendingUpdate{
		ID:              shortID(),
		Transcript:      text,
		MatchedSection:  matched,
		Similarity:      match.Similarity,
		SuggestedAction: suggested,
		Reason:          reason,
		Timestamp:       time.Now().Format(time.RFC3339),
	}
	st.AddPending(pend)
	log.Printf("app: fragment held pending project=%s id=%s reason=%q", st.Slug, pend.ID, reason)

	event := stream.NewEvent(stream.EventPendingUpdate)
	event["pending"] = pend
	s.hub.Broadcast(st.Slug, event)

	return ProcessResult{
		Status:          "pending",
		PendingID:       pend.ID,
		Reason:          reason,
		SuggestedAction: suggested,
		MatchedSection:  matched,
		Similarity:      match.Similarity,
	}
}

// ResolvePending applies a human decision to a held fragment. The synthesis
// (if any) runs on the worker goroutine so it is serialized against queued
// fragments.
func (s *Service) ResolvePending(ctx context.Context, projectName, pendingID, decision string) (ProcessResult, error) {
	switch decision {
	case DecisionApprove, DecisionReject, DecisionUpdateSection, DecisionCreateNew:
	default:
		return ProcessResult{}, fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}

	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))

	var (
		result ProcessResult
		runErr error
	)
	err := s.worker.RunExclusive(ctx, func(ctx context.Context) {
		result, runErr = s.applyResolution(ctx, st, pendingID, decision)
	})
	if err != nil {
		return ProcessResult{}, err
	}
	return result, runErr
}

func (s *Service) applyResolution(ctx context.Context, st *project.State, pendingID, decision string) (ProcessResult, error) {
	pend, ok := st.FindPending(pendingID)
	if !ok {
		return ProcessResult{}, ErrPendingNotFound
	}

	if decision == DecisionReject {
		st.RemovePending(pendingID)
		log.Printf("app: pending %s rejected project=%s", pendingID, st.Slug)
		s.broadcastPendingResolved(st.Slug, pendingID, "rejected", nil)
		return ProcessResult{Status: "rejected", PendingID: pendingID}, nil
	}

	action := synth.ActionCreate
	switch decision {
	case DecisionApprove:
		action = pend.SuggestedAction
	case DecisionUpdateSection:
		// Without a matched section there is nothing to update into.
		if pend.MatchedSection != "" {
			action = synth.ActionUpdate
		}
	}
	target := ""
	if action == synth.ActionUpdate {
		target = pend.MatchedSection
	}

	content, err := s.document(ctx, st)
	if err != nil {
		return ProcessResult{}, err
	}

	newContent, changeInfo := s.synth.Synthesize(ctx, content, target, pend.Transcript, action, "")
	if err := s.docs.Write(ctx, st.Slug, newContent); err != nil {
		return ProcessResult{}, fmt.Errorf("write document %s: %w", st.Slug, err)
	}

	// The entry is consumed only once the resolution is persisted; a failed
	// write above leaves the fragment pending for a retry.
	st.RemovePending(pendingID)

	s.snapshot(st.Slug, newContent, snapshotMessage(action, changeInfo.TargetSection))
	s.resyncIndex(ctx, st, newContent)
	s.broadcastPendingResolved(st.Slug, pendingID, decision, &changeInfo)
	s.broadcastFileUpdated(st.Slug, newContent, action, changeInfo)

	return ProcessResult{
		Status:     "success",
		Action:     action,
		Section:    changeInfo.TargetSection,
		ChangeInfo: &changeInfo,
		PendingID:  pendingID,
	}, nil
}

// Clear resets a project's document to its initial state and drops its
// transcript log, context buffer and pending list.
func (s *Service) Clear(ctx context.Context, projectName string) (string, error) {
	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))

	var runErr error
	content := notes.InitialContent(st.Name)
	err := s.worker.RunExclusive(ctx, func(ctx context.Context) {
		if err := s.docs.Write(ctx, st.Slug, content); err != nil {
			runErr = fmt.Errorf("write document %s: %w", st.Slug, err)
			return
		}
		st.Clear()
		s.snapshot(st.Slug, content, "Clear notes")
		s.resyncIndex(ctx, st, content)
		s.broadcastFileUpdated(st.Slug, content, "clear", synth.ChangeSummary{
			ChangedLines: []int{},
			AddedLines:   []int{},
		})
	})
	if err != nil {
		return "", err
	}
	return content, runErr
}

// Notes returns the read-model for a project, materializing the initial
// document on first reference.
func (s *Service) Notes(ctx context.Context, projectName string) (NotesView, error) {
	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))
	content, err := s.document(ctx, st)
	if err != nil {
		return NotesView{}, err
	}
	sections := notes.ParseSections(content)
	if sections == nil {
		sections = []notes.Section{}
	}
	return NotesView{
		Project:  st.Name,
		Slug:     st.Slug,
		Content:  content,
		Sections: sections,
		Pending:  st.Pending(),
	}, nil
}

// Transcript returns the last 10 transcript log entries, oldest first.
func (s *Service) Transcript(projectName string) []project.TranscriptEntry {
	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))
	return st.RecentTranscript(10)
}

// Pending returns the project's undecided pending updates.
func (s *Service) Pending(projectName string) []project.PendingUpdate {
	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))
	return st.Pending()
}

// Export renders the project document for download.
func (s *Service) Export(ctx context.Context, projectName, format string) (*export.Result, error) {
	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))
	content, err := s.document(ctx, st)
	if err != nil {
		return nil, err
	}
	if format == "pdf" {
		return export.PDF(export.TitleOf(st.Slug, content), content)
	}
	return export.Markdown(st.Slug, content), nil
}

// History lists snapshot commits, newest first. Empty when snapshots are not
// configured.
func (s *Service) History(projectName string, limit int) ([]gitrepo.CommitInfo, error) {
	if s.snapshots == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))
	return s.snapshots.History(st.Slug, limit)
}

// ContentAt returns the document text as of a snapshot hash.
func (s *Service) ContentAt(projectName, hash string) (string, error) {
	if s.snapshots == nil {
		return "", fmt.Errorf("snapshot history not configured")
	}
	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))
	return s.snapshots.ContentAt(st.Slug, hash)
}

// Subscribe registers a live-update subscriber for a project.
func (s *Service) Subscribe(projectName string) (<-chan stream.Event, func(), string) {
	slug := project.Slugify(project.ResolveName(projectName, s.cfg.DefaultProject))
	ch, cancel := s.hub.Subscribe(slug)
	return ch, cancel, slug
}

// InitEvent builds the initial snapshot event for a new stream subscriber.
func (s *Service) InitEvent(ctx context.Context, projectName string) (stream.Event, error) {
	st := s.projects.Get(project.ResolveName(projectName, s.cfg.DefaultProject))
	content, err := s.document(ctx, st)
	if err != nil {
		return nil, err
	}
	sections := notes.ParseSections(content)
	if sections == nil {
		sections = []notes.Section{}
	}

	event := stream.NewEvent(stream.EventInit)
	event["project"] = st.Name
	event["content"] = content
	event["sections"] = sections
	event["transcript"] = st.RecentTranscript(5)
	event["pending_updates"] = st.Pending()
	return event, nil
}

// document reads the project's markdown, creating the initial document on
// first reference.
func (s *Service) document(ctx context.Context, st *project.State) (string, error) {
	content, err := s.docs.Read(ctx, st.Slug)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("read document %s: %w", st.Slug, err)
	}

	content = notes.InitialContent(st.Name)
	if err := s.docs.Write(ctx, st.Slug, content); err != nil {
		return "", fmt.Errorf("create document %s: %w", st.Slug, err)
	}
	log.Printf("app: created initial document for %s", st.Slug)
	return content, nil
}

func (s *Service) snapshot(slug, content, message string) {
	if s.snapshots == nil {
		return
	}
	if _, err := s.snapshots.Snapshot(slug, content, message); err != nil {
		log.Printf("app: snapshot %s: %v", slug, err)
	}
}

func (s *Service) resyncIndex(ctx context.Context, st *project.State, content string) {
	if err := s.index.Sync(ctx, st.Name, st.Slug, content); err != nil {
		log.Printf("app: index resync %s: %v", st.Slug, err)
	}
}

func (s *Service) broadcastFileUpdated(slug, content, action string, changeInfo synth.ChangeSummary) {
	event := stream.NewEvent(stream.EventFileUpdated)
	event["content"] = content
	event["action"] = action
	event["section"] = changeInfo.TargetSection
	event["change_info"] = changeInfo
	s.hub.Broadcast(slug, event)
}

func (s *Service) broadcastPendingResolved(slug, pendingID, decision string, changeInfo *synth.ChangeSummary) {
	event := stream.NewEvent(stream.EventPendingResolved)
	event["pending_id"] = pendingID
	event["decision"] = decision
	if changeInfo != nil {
		event["change_info"] = changeInfo
	}
	s.hub.Broadcast(slug, event)
}

func snapshotMessage(action, section string) string {
	if section == "" {
		return "Apply transcript"
	}
	if action == synth.ActionCreate {
		return fmt.Sprintf("Add section %q", section)
	}
	return fmt.Sprintf("Update section %q", section)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
