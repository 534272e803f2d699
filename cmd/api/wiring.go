package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/paper-lingo/internal/cache"
	"github.com/yourusername/paper-lingo/internal/checkpoint"
	"github.com/yourusername/paper-lingo/internal/config"
	"github.com/yourusername/paper-lingo/internal/jobs"
	"github.com/yourusername/paper-lingo/internal/observability"
	"github.com/yourusername/paper-lingo/internal/storage"
	"github.com/yourusername/paper-lingo/internal/transform"
)

// closers は終了時に閉じるリソースをまとめます。
type closers []io.Closer

func (cs closers) Close() {
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Close(); err != nil {
			log.Printf("failed to close resource: %v", err)
		}
	}
}

// setupService は設定に従ってジョブサービスとその依存関係を組み立てます。
func setupService(ctx context.Context, cfg *config.Config, logger *log.Logger, metrics *observability.Metrics, notifier jobs.Notifier) (*jobs.Service, closers, error) {
	var res closers
	fail := func(err error) (*jobs.Service, closers, error) {
		res.Close()
		return nil, nil, err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("parse REDIS_URL: %w", err))
		}
		rdb = redis.NewClient(opt)
		res = append(res, rdb)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
	}

	cacheStore, err := setupCache(ctx, cfg, rdb, logger)
	if err != nil {
		return fail(err)
	}
	if c, ok := cacheStore.(io.Closer); ok {
		res = append(res, c)
	}

	checkpoints, err := setupCheckpoints(ctx, cfg, rdb, logger, &res)
	if err != nil {
		return fail(err)
	}

	backend, err := setupBackend(ctx, cfg, &res)
	if err != nil {
		return fail(err)
	}
	if cfg.Romanize() {
		backend = transform.NewRomanizingBackend(backend)
	}
	client := transform.NewRetryingClient(backend, logger, metrics)
	client.MaxAttempts = cfg.TransformMaxAttempts
	client.BaseDelay = cfg.TransformBaseDelay

	local, err := storage.NewLocal(cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		return fail(err)
	}

	var mirror storage.Mirror
	if cfg.GCSBucket != "" {
		gcsClient, err := gcs.NewClient(ctx)
		if err != nil {
			return fail(fmt.Errorf("create storage client: %w", err))
		}
		res = append(res, gcsClient)
		m, err := storage.NewGCSMirror(gcsClient, cfg.GCSBucket)
		if err != nil {
			return fail(err)
		}
		mirror = m
	}

	var newDispatcher func(jobs.Runner) (jobs.Dispatcher, error)
	if cfg.QueueRedisURL != "" {
		newDispatcher = func(run jobs.Runner) (jobs.Dispatcher, error) {
			return jobs.NewQueueDispatcher(jobs.QueueOptions{
				RedisURL:    cfg.QueueRedisURL,
				Concurrency: cfg.QueueConcurrency,
			}, run, logger)
		}
	}

	svc, err := jobs.NewService(jobs.ServiceConfig{
		Registry:      jobs.NewRegistry(),
		Processor:     jobs.NewProcessor(cacheStore, checkpoints, client, jobs.ProcessorOptions{MaxChunkSize: cfg.MaxChunkSize}, logger, metrics),
		Cache:         cacheStore,
		Checkpoints:   checkpoints,
		Local:         local,
		Mirror:        mirror,
		Notifier:      notifier,
		NewDispatcher: newDispatcher,
		OutputLabel:   cfg.OutputLabel(),
		LinesPerPage:  cfg.TextLinesPerPage,
		MaxFileSize:   cfg.MaxFileSize,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return fail(err)
	}
	return svc, res, nil
}

func setupCache(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *log.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.BackendRedis:
		return cache.OpenRedisStore(ctx, rdb, cache.DefaultRedisKey, logger)
	default:
		return cache.OpenFileStore(cfg.CacheDir, logger)
	}
}

func setupCheckpoints(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *log.Logger, res *closers) (checkpoint.Store, error) {
	switch cfg.CheckpointBackend {
	case config.BackendRedis:
		return checkpoint.NewRedisStore(rdb, logger), nil
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.GCPProject)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		*res = append(*res, client)
		return checkpoint.NewFirestoreStore(client, cfg.CheckpointCollection, logger)
	default:
		return checkpoint.NewFileStore(cfg.OutputDir, logger)
	}
}

func setupBackend(ctx context.Context, cfg *config.Config, res *closers) (transform.Backend, error) {
	switch cfg.TransformBackend {
	case config.TransformVertex:
		backend, err := transform.NewVertexBackend(ctx, transform.VertexOptions{
			ProjectID:  cfg.GCPProject,
			Region:     cfg.VertexRegion,
			Model:      cfg.VertexModel,
			SourceLang: cfg.SourceLang,
			TargetLang: cfg.TargetLang,
		})
		if err != nil {
			return nil, err
		}
		*res = append(*res, backend)
		return backend, nil
	default:
		return transform.NewGoogleBackend(transform.GoogleOptions{
			Endpoint:   cfg.TranslateEndpoint,
			SourceLang: cfg.SourceLang,
			TargetLang: cfg.TargetLang,
			Timeout:    cfg.TransformTimeout,
		}), nil
	}
}
