package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loopnote/api/internal/stream"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	service := newTestService(t, keywordEmbedder{})
	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return server, service
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["ok"] != true {
		t.Fatalf("body = %+v", body)
	}
}

func TestProcessEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/process", map[string]any{
		"text": "set up the database schema",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)

	if body["status"] != "completed" {
		t.Fatalf("body = %+v", body)
	}
	requestID, _ := body["request_id"].(string)
	if len(requestID) != 8 {
		t.Fatalf("request_id = %q", requestID)
	}
	result, _ := body["result"].(map[string]any)
	if result["status"] != "success" || result["action"] != "create" {
		t.Fatalf("result = %+v", result)
	}

	// The stored result is retrievable afterwards.
	statusResp, err := http.Get(server.URL + "/api/queue/status/" + requestID)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if statusResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", statusResp.StatusCode)
	}
	statusBody := decodeJSON(t, statusResp)
	stored, _ := statusBody["result"].(map[string]any)
	if stored["status"] != "completed" {
		t.Fatalf("stored = %+v", statusBody)
	}
}

func TestProcessEndpointValidation(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/process", map[string]any{"text": "   "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	raw, err := http.Post(server.URL+"/api/process", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", raw.StatusCode)
	}
}

func TestQueueStatusUnknownID(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/queue/status/deadbeef")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestNotesEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.URL+"/api/process", map[string]any{"text": "note about auth flow"}).Body.Close()

	resp, err := http.Get(server.URL + "/api/notes")
	if err != nil {
		t.Fatalf("GET /api/notes: %v", err)
	}
	body := decodeJSON(t, resp)

	content, _ := body["content"].(string)
	if !strings.Contains(content, "note about auth flow") {
		t.Fatalf("content = %q", content)
	}
	sections, _ := body["sections"].([]any)
	if len(sections) < 2 {
		t.Fatalf("sections = %+v", body["sections"])
	}
	if body["project"] != "Demo" || body["slug"] != "demo" {
		t.Fatalf("body = %+v", body)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.URL+"/api/process", map[string]any{"text": "first"}).Body.Close()
	postJSON(t, server.URL+"/api/process", map[string]any{"text": "second"}).Body.Close()

	resp, err := http.Get(server.URL + "/api/transcript")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeJSON(t, resp)
	entries, _ := body["transcript"].([]any)
	if len(entries) != 2 {
		t.Fatalf("transcript = %+v", body)
	}
}

func TestPendingEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.URL+"/api/process", map[string]any{"text": "set up the database schema"}).Body.Close()

	resp := postJSON(t, server.URL+"/api/process", map[string]any{"text": "wait no the database should be postgres"})
	body := decodeJSON(t, resp)
	result, _ := body["result"].(map[string]any)
	if result["status"] != "pending" {
		t.Fatalf("result = %+v", result)
	}
	pendingID, _ := result["pending_id"].(string)
	if pendingID == "" {
		t.Fatalf("pending_id missing: %+v", result)
	}

	listResp, err := http.Get(server.URL + "/api/pending")
	if err != nil {
		t.Fatalf("GET /api/pending: %v", err)
	}
	listBody := decodeJSON(t, listResp)
	pending, _ := listBody["pending_updates"].([]any)
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", listBody)
	}

	badResp := postJSON(t, server.URL+"/api/pending", map[string]any{
		"pending_id": pendingID,
		"decision":   "shrug",
	})
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown decision status = %d", badResp.StatusCode)
	}

	resolveResp := postJSON(t, server.URL+"/api/pending", map[string]any{
		"pending_id": pendingID,
		"decision":   "reject",
	})
	if resolveResp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resolveResp.StatusCode)
	}
	resolveBody := decodeJSON(t, resolveResp)
	if resolveBody["status"] != "rejected" {
		t.Fatalf("resolve body = %+v", resolveBody)
	}

	againResp := postJSON(t, server.URL+"/api/pending", map[string]any{
		"pending_id": pendingID,
		"decision":   "reject",
	})
	againResp.Body.Close()
	if againResp.StatusCode != http.StatusNotFound {
		t.Fatalf("second resolve status = %d", againResp.StatusCode)
	}
}

func TestClearEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.URL+"/api/process", map[string]any{"text": "some note"}).Body.Close()

	resp := postJSON(t, server.URL+"/api/clear", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["status"] != "success" || body["content"] != "# Demo\n\n" {
		t.Fatalf("body = %+v", body)
	}
}

func TestClearEndpointQueryParamNoBody(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.URL+"/api/process", map[string]any{"text": "some note", "project": "Alpha"}).Body.Close()

	resp, err := http.Post(server.URL+"/api/clear?project=Alpha", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/clear: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["status"] != "success" || body["content"] != "# Alpha\n\n" {
		t.Fatalf("body = %+v", body)
	}

	// A bare POST with no body and no query param clears the default project.
	resp, err = http.Post(server.URL+"/api/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/clear: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body = decodeJSON(t, resp)
	if body["content"] != "# Demo\n\n" {
		t.Fatalf("body = %+v", body)
	}
}

func TestExportEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.URL+"/api/process", map[string]any{"text": "exported note"}).Body.Close()

	resp, err := http.Get(server.URL + "/api/export")
	if err != nil {
		t.Fatalf("GET /api/export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/markdown" {
		t.Fatalf("content type = %q", got)
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "demo.md") {
		t.Fatalf("disposition = %q", got)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "exported note") {
		t.Fatalf("body = %q", data)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server.URL+"/api/process", map[string]any{"text": "set up the database schema"}).Body.Close()
	postJSON(t, server.URL+"/api/process", map[string]any{"text": "configure the deploy pipeline"}).Body.Close()

	resp, err := http.Get(server.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	body := decodeJSON(t, resp)
	history, _ := body["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("history = %+v", body)
	}

	newest, _ := history[0].(map[string]any)
	hash, _ := newest["hash"].(string)
	if len(hash) != 7 {
		t.Fatalf("hash = %q", hash)
	}

	atResp, err := http.Get(server.URL + "/api/history?hash=" + hash)
	if err != nil {
		t.Fatalf("GET history at hash: %v", err)
	}
	atBody := decodeJSON(t, atResp)
	content, _ := atBody["content"].(string)
	if !strings.Contains(content, "deploy pipeline") {
		t.Fatalf("content at newest hash = %q", content)
	}
}

func TestStreamEndpointSendsInitThenEvents(t *testing.T) {
	server, service := newTestServer(t)

	postJSON(t, server.URL+"/api/process", map[string]any{"text": "stream seed"}).Body.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	init := readSSEEvent(t, scanner)
	if init["type"] != stream.EventInit {
		t.Fatalf("first event = %+v", init)
	}
	content, _ := init["content"].(string)
	if !strings.Contains(content, "stream seed") {
		t.Fatalf("init content = %q", content)
	}

	// A mutation while connected arrives as a file_updated event (heartbeats
	// may interleave).
	go func() {
		_, _, _ = service.Process(context.Background(), "note about auth", "", 1, "")
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("file_updated never arrived")
		}
		event := readSSEEvent(t, scanner)
		if event["type"] == stream.EventFileUpdated {
			break
		}
		if event["type"] != stream.EventHeartbeat && event["type"] != stream.EventPendingUpdate {
			t.Fatalf("unexpected event %+v", event)
		}
	}
}

func readSSEEvent(t *testing.T, scanner *bufio.Scanner) stream.Event {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("decode SSE payload %q: %v", line, err)
		}
		return event
	}
	t.Fatalf("stream ended: %v", scanner.Err())
	return nil
}

func TestUnknownRouteReturns404(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCORSHeadersSet(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/api/process", nil)
	preflight, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer preflight.Body.Close()
	if preflight.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d", preflight.StatusCode)
	}
}
