package app

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loopnote/api/internal/export"
	"loopnote/api/internal/stream"
)

// Heartbeat cadence for live streams; keeps proxies from reaping idle
// connections.
const streamHeartbeat = 2 * time.Second

// Upper bound on uploaded audio blobs.
const maxAudioBytes = 25 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && (r.URL.Path == "/health" || r.URL.Path == "/api/health") {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notes" {
		view, err := s.service.Notes(r.Context(), r.URL.Query().Get("project"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Failed to load notes", nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/transcript" {
		entries := s.service.Transcript(r.URL.Query().Get("project"))
		writeJSON(w, http.StatusOK, map[string]any{"transcript": entries})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/process" {
		s.handleProcess(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/audio" {
		s.handleAudio(w, r)
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/queue/status/") {
		requestID := strings.TrimPrefix(r.URL.Path, "/api/queue/status/")
		if requestID == "" || strings.Contains(requestID, "/") {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		result, ok := s.service.QueueStatus(r.Context(), requestID)
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown or expired request id", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "result": result})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/pending" {
		pending := s.service.Pending(r.URL.Query().Get("project"))
		writeJSON(w, http.StatusOK, map[string]any{"pending_updates": pending})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/pending" {
		s.handleResolvePending(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/stream" {
		s.handleStream(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/clear" {
		project := r.URL.Query().Get("project")
		if project == "" {
			var body struct {
				Project string `json:"project"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project = body.Project
		}
		content, err := s.service.Clear(r.Context(), project)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Failed to clear notes", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "content": content})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export" {
		s.handleExport(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/history" {
		s.handleHistory(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleProcess accepts a text fragment and blocks until the queue worker has
// applied it, so the response carries the final disposition. Ordering across
// concurrent callers is still queue order, not request arrival order at this
// handler.
func (s *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text            string `json:"text"`
		Project         string `json:"project"`
		Chunk           int    `json:"chunk_num"`
		PreviousContext string `json:"previous_context"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
		return
	}

	requestID, result, err := s.service.Process(r.Context(), body.Text, body.Project, body.Chunk, body.PreviousContext)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err.Error(), nil)
		return
	}

	payload := map[string]any{
		"request_id": requestID,
		"status":     result.Status,
	}
	if result.Result != nil {
		payload["result"] = result.Result
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleAudio transcribes an uploaded blob and enqueues the text without
// waiting for synthesis; the client follows up via the queue status endpoint
// or the live stream.
func (s *HTTPServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with an audio file", nil)
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "audio file is required", nil)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "failed to read audio file", nil)
		return
	}

	chunk := 0
	if raw := strings.TrimSpace(r.FormValue("chunk_num")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "chunk_num must be an integer", nil)
			return
		}
		chunk = parsed
	}

	transcription, requestID, err := s.service.ProcessAudio(r.Context(), audio, r.FormValue("project"), chunk)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "TRANSCRIPTION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "queued",
		"request_id":    requestID,
		"transcription": transcription,
	})
}

func (s *HTTPServer) handleResolvePending(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PendingID string `json:"pending_id"`
		Decision  string `json:"decision"`
		Project   string `json:"project"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.PendingID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pending_id is required", nil)
		return
	}

	result, err := s.service.ResolvePending(r.Context(), body.Project, body.PendingID, body.Decision)
	if err != nil {
		switch {
		case errors.Is(err, ErrPendingNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Pending update not found", nil)
		case errors.Is(err, ErrUnknownDecision):
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Failed to resolve pending update", nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStream serves the live event feed over SSE: an init snapshot, then
// relayed change events, with heartbeats while idle.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	projectName := r.URL.Query().Get("project")
	events, cancel, slug := s.service.Subscribe(projectName)
	defer cancel()

	init, err := s.service.InitEvent(r.Context(), projectName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Failed to load stream snapshot", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !writeSSE(w, init) {
		return
	}
	flusher.Flush()
	log.Printf("http: stream subscriber connected project=%s", slug)

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("http: stream subscriber disconnected project=%s", slug)
			return
		case event, open := <-events:
			if !open {
				// Dropped by the hub for falling behind.
				return
			}
			if !writeSSE(w, event) {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if !writeSSE(w, stream.NewEvent(stream.EventHeartbeat)) {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.TrimSpace(r.URL.Query().Get("format"))
	result, err := s.service.Export(r.Context(), r.URL.Query().Get("project"), format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			writeError(w, http.StatusNotImplemented, "PDF_UNAVAILABLE", "PDF export requires chromium to be installed", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "EXPORT_FAILED", "Export failed", nil)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	projectName := r.URL.Query().Get("project")

	if hash := strings.TrimSpace(r.URL.Query().Get("hash")); hash != "" {
		content, err := s.service.ContentAt(projectName, hash)
		if err != nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Snapshot not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hash": hash, "content": content})
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}

	commits, err := s.service.History(projectName, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Failed to load history", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": commits})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeSSE(w http.ResponseWriter, event stream.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("http: marshal stream event: %v", err)
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	return true
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		// An empty body reads as an empty object.
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
