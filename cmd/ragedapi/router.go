// Package main provides the API router setup.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/raged/cmd/ragedapi/handlers"
	"github.com/spherical-ai/raged/cmd/ragedapi/middleware"
	"github.com/spherical-ai/raged/internal/blobstore"
	"github.com/spherical-ai/raged/internal/cache"
	"github.com/spherical-ai/raged/internal/chunker"
	"github.com/spherical-ai/raged/internal/config"
	"github.com/spherical-ai/raged/internal/embedding"
	"github.com/spherical-ai/raged/internal/fetch"
	"github.com/spherical-ai/raged/internal/ingest"
	"github.com/spherical-ai/raged/internal/observability"
	"github.com/spherical-ai/raged/internal/query"
	"github.com/spherical-ai/raged/internal/queue"
	"github.com/spherical-ai/raged/internal/storage"
)

// NewRouter wires every collaborator and returns the fully routed handler.
func NewRouter(logger *observability.Logger, cfg *config.Config, db *sql.DB) (http.Handler, error) {
	repos := storage.NewRepositories(db)

	embedder, err := buildEmbedder(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		Concurrency: cfg.Fetch.Concurrency,
		Timeout:     cfg.Fetch.Timeout,
	})

	blobs, err := blobstore.New(context.Background(), blobstore.Config{
		Endpoint:       cfg.BlobStore.Endpoint,
		Bucket:         cfg.BlobStore.Bucket,
		Region:         cfg.BlobStore.Region,
		AccessKey:      cfg.BlobStore.AccessKeyID,
		SecretKey:      cfg.BlobStore.SecretAccessKey,
		ThresholdBytes: cfg.BlobStore.ThresholdBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("build blob store: %w", err)
	}

	cacheClient, err := buildCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	queueSvc := queue.New(repos, queue.Config{
		LeaseDuration:   cfg.Enrichment.Lease,
		MaxAttempts:     cfg.Enrichment.MaxAttempts,
		RetryDelay:      cfg.Enrichment.RetryDelay,
		EnqueuePageSize: cfg.Ingestion.EnqueuePageSize,
	})

	ingestSvc := ingest.New(logger, repos, embedder, fetcher, blobs, queueSvc, ingest.Config{
		Chunk: chunker.Config{
			TargetBytes:  cfg.Ingestion.ChunkTargetBytes,
			OverlapBytes: cfg.Ingestion.ChunkOverlap,
		},
		VectorDim:          cfg.Vector.Dimension,
		EmbedConcurrency:   cfg.Embedding.Concurrency,
		EnrichmentEnabled:  cfg.Enrichment.Enabled,
		BlobThresholdBytes: cfg.BlobStore.ThresholdBytes,
	})

	graphSvc := query.NewGraphService(repos.Graph, query.DefaultGraphConfig())
	querySvc := query.New(repos, embedder, blobs, graphSvc)

	ingestHandler := handlers.NewIngestHandler(logger, ingestSvc)
	queryHandler := handlers.NewQueryHandler(logger, querySvc, cacheClient, cfg.Cache.TTL)
	collectionsHandler := handlers.NewCollectionsHandler(repos.Documents)
	enrichmentHandler := handlers.NewEnrichmentHandler(queueSvc)
	tasksHandler := handlers.NewTasksHandler(logger, queueSvc)
	graphHandler := handlers.NewGraphHandler(graphSvc)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimitBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(middleware.AuthConfig{Token: cfg.Auth.Token}))

		r.Post("/ingest", ingestHandler.Ingest)

		r.Post("/query", queryHandler.Query)
		r.Post("/query/download-first", queryHandler.DownloadFirst)
		r.Post("/query/fulltext-first", queryHandler.FulltextFirst)

		r.Get("/collections", collectionsHandler.List)

		r.Get("/enrichment/status/{baseId}", enrichmentHandler.Status)
		r.Get("/enrichment/stats", enrichmentHandler.Stats)
		r.Post("/enrichment/enqueue", enrichmentHandler.Enqueue)
		r.Post("/enrichment/clear", enrichmentHandler.Clear)

		r.Post("/internal/tasks/claim", tasksHandler.Claim)
		r.Post("/internal/tasks/{id}/result", tasksHandler.Result)
		r.Post("/internal/tasks/{id}/fail", tasksHandler.Fail)
		r.Post("/internal/tasks/recover-stale", tasksHandler.RecoverStale)

		r.Get("/graph/entity/{name}", graphHandler.Entity)
	})

	return r, nil
}

// buildEmbedder selects the configured provider's client, falling back to
// the in-process mock when no API key is set so the service still boots
// in local/dev environments without external credentials.
func buildEmbedder(logger *observability.Logger, cfg *config.Config) (embedding.Embedder, error) {
	var provider config.ProviderConfig
	switch cfg.Embedding.Provider {
	case "provider-a":
		provider = cfg.Embedding.ProviderA
	case "provider-b":
		provider = cfg.Embedding.ProviderB
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	if provider.APIKey == "" {
		logger.Warn().Str("provider", cfg.Embedding.Provider).Msg("no embedding API key configured, using mock embedder")
		return embedding.NewMockClient(cfg.Embedding.Dimension), nil
	}

	return embedding.NewClient(embedding.Config{
		APIKey:    provider.APIKey,
		Model:     provider.Model,
		BaseURL:   provider.BaseURL,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.RequestTimeout,
	})
}

// buildCache selects the configured cache backend.
func buildCache(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
}
