package ai

import (
	"bytes"
	"context"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const groqTranscriptionURL = "https://api.groq.com/openai/v1/audio/transcriptions"

// Groq transcribes audio via the Whisper API. Transcription is best-effort:
// any failure yields an empty string, never an error, so a flaky
// transcription service cannot poison the pipeline.
type Groq struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

func NewGroq(apiKey, model string) *Groq {
	return &Groq{
		apiKey: apiKey,
		model:  model,
		url:    groqTranscriptionURL,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// NewGroqWithURL is used by tests to point the client at a stub server.
func NewGroqWithURL(apiKey, model, url string) *Groq {
	g := NewGroq(apiKey, model)
	g.url = url
	return g
}

// Transcribe converts audio bytes to text. Returns "" on any failure.
func (g *Groq) Transcribe(ctx context.Context, audio []byte) string {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		log.Printf("transcribe: build form: %v", err)
		return ""
	}
	if _, err := part.Write(audio); err != nil {
		log.Printf("transcribe: write audio: %v", err)
		return ""
	}
	_ = writer.WriteField("model", g.model)
	_ = writer.WriteField("response_format", "text")
	if err := writer.Close(); err != nil {
		log.Printf("transcribe: close form: %v", err)
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, &body)
	if err != nil {
		log.Printf("transcribe: build request: %v", err)
		return ""
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		log.Printf("transcribe: request failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("transcribe: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		return ""
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("transcribe: read response: %v", err)
		return ""
	}
	return strings.TrimSpace(string(text))
}
