package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGeminiRewrite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query: %s", r.URL.RawQuery)
		}
		var body struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Contents) != 1 || body.Contents[0].Parts[0].Text != "rewrite this" {
			t.Errorf("unexpected request body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{
					{"text": "# Notes\n\n"},
					{"text": "## Done\n"},
				}}},
			},
		})
	}))
	defer server.Close()

	client := NewGeminiWithBaseURL("test-key", "test-model", server.URL)
	out, err := client.Rewrite(context.Background(), "rewrite this")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if out != "# Notes\n\n## Done\n" {
		t.Fatalf("parts not concatenated: %q", out)
	}
}

func TestGeminiRewriteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewGeminiWithBaseURL("k", "m", server.URL)
	if _, err := client.Rewrite(context.Background(), "x"); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestGroqTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-test" {
			t.Errorf("model = %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("audio file missing: %v", err)
		}
		_, _ = w.Write([]byte("  hello from the recording  "))
	}))
	defer server.Close()

	client := NewGroqWithURL("k", "whisper-test", server.URL)
	got := client.Transcribe(context.Background(), []byte("fake-wav-bytes"))
	if got != "hello from the recording" {
		t.Fatalf("Transcribe = %q", got)
	}
}

func TestGroqTranscribeFailureReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewGroqWithURL("k", "m", server.URL)
	if got := client.Transcribe(context.Background(), []byte("x")); got != "" {
		t.Fatalf("expected empty transcription on failure, got %q", got)
	}
}

func TestEmbedClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "test-embed" || len(body.Input) != 1 {
			t.Errorf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer server.Close()

	client := NewEmbedClient(server.URL, "test-embed", "")
	vec, err := client.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("vector length %d, want 3", len(vec))
	}
}
