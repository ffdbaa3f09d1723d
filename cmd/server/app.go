package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/catalog"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/config"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/enrich"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/ingest"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/jobqueue"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/metrics"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/store"
)

// app holds the long-lived collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	store    *store.Store
	queue    *jobqueue.Queue
	worker   *ingest.Worker
	registry *prometheus.Registry
	metrics  *metrics.PipelineMetrics
}

// openDatabase connects the pool and, unless disabled, applies the schema.
func openDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *store.Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	st := store.New(pool)
	if err := st.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	if cfg.Database.AutoMigrate {
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return pool, st, nil
}

// newApp builds the whole pipeline: store, catalog client, enrichment engine,
// queue and worker, all reporting to one metrics registry.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, st, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pm, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		pool.Close()
		return nil, err
	}

	client, err := catalog.New(catalog.Config{
		BaseURL:   cfg.Catalog.BaseURL,
		Timeout:   cfg.Catalog.Timeout,
		ChunkSize: cfg.Catalog.ChunkSize,
		UserAgent: cfg.Catalog.UserAgent,
	}, catalog.WithObserver(pm))
	if err != nil {
		pool.Close()
		return nil, err
	}

	queue := jobqueue.New(cfg.Queue.Capacity)
	pm.TrackQueueDepth(queue.Len)

	worker := ingest.NewWorker(queue, st, enrich.NewEngine(client, st),
		ingest.WithJobTimeout(cfg.Worker.JobTimeout),
		ingest.WithObserver(pm),
	)

	return &app{
		cfg:      cfg,
		pool:     pool,
		store:    st,
		queue:    queue,
		worker:   worker,
		registry: registry,
		metrics:  pm,
	}, nil
}

func (a *app) Close() {
	a.queue.Close()
	a.pool.Close()
}
