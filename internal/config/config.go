package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr           string
	DataDir        string
	ReposDir       string
	CORSOrigin     string
	DefaultProject string

	// Similarity threshold for section matching. Fragments scoring at or
	// above this against an existing section update it; below, a new
	// section is created.
	SimilarityThreshold float64

	// Embedding service (OpenAI-compatible /embeddings endpoint).
	EmbedURL    string
	EmbedModel  string
	EmbedAPIKey string

	// Gemini rewrite service.
	GeminiAPIKey string
	GeminiModel  string

	// Groq Whisper transcription.
	GroqAPIKey string
	GroqModel  string

	// Meilisearch - optional vector index backend.
	MeiliURL       string
	MeiliMasterKey string

	// Redis - optional processing-result storage.
	RedisURL string

	// MinIO - optional document storage backend.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DataDir:        getenv("LOOPNOTE_DATA_DIR", "./data/projects"),
		ReposDir:       getenv("LOOPNOTE_REPOS_DIR", "./data/repos"),
		CORSOrigin:     getenv("LOOPNOTE_CORS_ORIGIN", "*"),
		DefaultProject: getenv("LOOPNOTE_DEFAULT_PROJECT", "Loopnote"),

		SimilarityThreshold: getenvFloat("LOOPNOTE_SIMILARITY_THRESHOLD", 0.61),

		EmbedURL:    getenv("EMBED_URL", ""),
		EmbedModel:  getenv("EMBED_MODEL", "bge-small-en-v1.5"),
		EmbedAPIKey: getenv("EMBED_API_KEY", ""),

		GeminiAPIKey: getenv("GEMINI_API_KEY", ""),
		GeminiModel:  getenv("GEMINI_MODEL", "gemini-3-flash-preview"),

		GroqAPIKey: getenv("GROQ_API_KEY", ""),
		GroqModel:  getenv("GROQ_WHISPER_MODEL", "whisper-large-v3"),

		// Meilisearch - empty by default, in-memory index used if not configured
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		// Redis - empty by default, in-memory result table used if not configured
		RedisURL: getenv("REDIS_URL", ""),

		// MinIO - empty by default, local files used if not configured
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "loopnote-notes"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
