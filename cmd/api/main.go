package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loopnote/api/internal/ai"
	"loopnote/api/internal/app"
	"loopnote/api/internal/config"
	"loopnote/api/internal/gitrepo"
	"loopnote/api/internal/index"
	"loopnote/api/internal/queue"
	"loopnote/api/internal/store"
	"loopnote/api/internal/stream"
	"loopnote/api/internal/synth"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var docs interface {
		Read(ctx context.Context, slug string) (string, error)
		Write(ctx context.Context, slug, content string) error
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Using MinIO for document storage")
		minioStore, err := store.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		docs = minioStore
	} else {
		log.Printf("Using local files for document storage")
		fileStore, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			log.Fatalf("failed to create data dir: %v", err)
		}
		docs = fileStore
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}
	gitService := gitrepo.New(cfg.ReposDir)

	var embedder index.Embedder
	if strings.TrimSpace(cfg.EmbedURL) != "" {
		embedder = ai.NewEmbedClient(cfg.EmbedURL, cfg.EmbedModel, cfg.EmbedAPIKey)
	} else {
		log.Printf("WARNING: no embedding service configured, section matching disabled")
	}

	var meiliClient *index.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = index.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	indexService := index.NewService(embedder, meiliClient)

	var rewriter synth.Rewriter
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		rewriter = ai.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
	} else {
		log.Printf("WARNING: no rewrite service configured, using local append strategy")
	}
	synthService := synth.NewService(rewriter)

	var speech *ai.Groq
	if strings.TrimSpace(cfg.GroqAPIKey) != "" {
		speech = ai.NewGroq(cfg.GroqAPIKey, cfg.GroqModel)
	}

	var results queue.ResultStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for processing results")
		redisResults, err := queue.NewRedisResults(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisResults.Close()
		results = redisResults
	} else {
		log.Printf("Using in-memory processing results")
		results = queue.NewMemoryResults()
	}

	hub := stream.NewHub()

	// app.NewService takes transcriber as an interface; a typed-nil *ai.Groq
	// must not sneak in as a non-nil interface.
	var service *app.Service
	if speech != nil {
		service = app.NewService(cfg, docs, indexService, synthService, speech, gitService, hub, results)
	} else {
		service = app.NewService(cfg, docs, indexService, synthService, nil, gitService, hub, results)
	}
	service.Start()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: /api/stream holds its connection open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Loopnote API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := service.Stop(shutdownCtx); err != nil {
		log.Printf("worker shutdown error: %v", err)
	}
}
