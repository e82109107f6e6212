package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/config"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/feed"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/hydrate"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/infrastructure/postgres"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/infrastructure/rabbitmq"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/infrastructure/redis"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/infrastructure/storage"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/presort"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/ranking"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/segment"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// App holds the wired components shared by the API server and the presort
// CLI. Optional dependencies (publisher, media urls) are nil when their
// backend could not be reached at startup.
type App struct {
	Cfg *config.Config

	Pool      *pgxpool.Pool
	Repo      *postgres.Repository
	Runs      *postgres.JobRunRecorder
	Cache     *redis.Cache
	Publisher *rabbitmq.Publisher
	Media     *storage.MediaURLs

	Segments *segment.Store
	Job      *presort.Job
	Trigger  *presort.Trigger
	Feed     *feed.Service

	sqlDB *sql.DB
	log   zerolog.Logger
}

// New connects Postgres (required), Redis and RabbitMQ (best effort) and
// wires the ranking pipeline.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	rankCfg, err := cfg.RankingConfig()
	if err != nil {
		return nil, err
	}

	// ---- Postgres ----
	poolCfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres pool create: %w", err)
	}
	{
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		log.Info().Msg("postgres connected")
	}

	a := &App{Cfg: cfg, Pool: pool, log: log}
	a.Repo = postgres.New(pool, cfg.QueryTimeout)
	a.sqlDB = stdlib.OpenDBFromPool(pool)
	a.Runs = postgres.NewJobRunRecorder(a.sqlDB, domain.SystemClock{}, log)

	// ---- Redis ----
	a.Cache = redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, redis.Options{SeenRetention: cfg.SeenRetention})
	{
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		// best effort; seen tracking and the enqueue guard degrade without it
		if err := a.Cache.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- RabbitMQ publisher ----
	if pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange); err != nil {
		log.Warn().Err(err).Msg("rabbitmq publisher unavailable, presort refresh disabled")
	} else {
		a.Publisher = pub
		log.Info().Str("exchange", cfg.RabbitExchange).Msg("rabbitmq publisher connected")
	}

	// ---- Media URLs ----
	media, err := storage.New(storage.Options{
		Endpoint:         cfg.S3Endpoint,
		ExternalEndpoint: cfg.S3ExternalEndpoint,
		Region:           cfg.S3Region,
		Bucket:           cfg.S3Bucket,
		AccessKeyID:      cfg.S3AccessKeyID,
		SecretAccessKey:  cfg.S3SecretAccessKey,
		UsePathStyle:     cfg.S3UsePathStyle,
		URLTTL:           cfg.MediaURLTTL,
		CDNBaseURL:       cfg.MediaCDNBaseURL,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("media url signer unavailable, media urls disabled")
	} else {
		a.Media = media
	}

	a.wire(rankCfg)
	return a, nil
}

func (a *App) wire(rankCfg ranking.Config) {
	cfg := a.Cfg
	clock := domain.SystemClock{}

	var (
		signer domain.MediaURLSigner
		urls   domain.PublicURLer
	)
	if a.Media != nil {
		signer = a.Media
		urls = a.Media
	}
	directory := hydrate.NewDirectory(a.Repo, urls)
	hydrator := hydrate.New(a.Repo, a.Repo, signer, hydrate.DefaultOptions(), a.log)

	a.Segments = segment.NewStore(a.Repo, a.Repo, segment.Config{
		AlgorithmVersion: cfg.AlgorithmVersion,
		MinSegmentItems:  cfg.MinSegmentItems,
		TTL:              cfg.SegmentTTL,
	}, clock, a.log)
	freshness := segment.NewFreshness(a.Repo, a.Repo, clock)

	scorer := ranking.NewScorer(rankCfg, a.Repo, a.Cache, clock, a.log)
	sequencer := ranking.NewSequencer(rankCfg, a.log)

	a.Job = presort.NewJob(presort.Deps{
		Candidates:    a.Repo,
		Relationships: a.Repo,
		Actors:        directory,
		Users:         a.Repo,
		Scorer:        scorer,
		Segments:      a.Segments,
		Freshness:     freshness,
		Runner:        a.Runs,
		Clock:         clock,
	}, presort.Options{
		Ranking: rankCfg,
		Defaults: presort.Params{
			BatchSize:   cfg.PresortBatchSize,
			SegmentSize: cfg.SegmentSize,
			MaxSegments: cfg.MaxSegments,
		},
		MaxConcurrency:  cfg.PresortMaxConcurrency,
		Interval:        cfg.PresortInterval,
		JitterFraction:  cfg.PresortJitterFraction,
		PostLimit:       cfg.CandidatePostLimit,
		SuggestionLimit: cfg.CandidateSuggLimit,
		QuestionLimit:   cfg.CandidateQuizLimit,
		SegmentTTL:      cfg.SegmentTTL,
	}, a.log)

	var refresher feed.Refresher
	if a.Publisher != nil {
		a.Trigger = presort.NewTrigger(a.Publisher, a.Cache, presort.TriggerOptions{
			Buffer:   cfg.TriggerBuffer,
			GuardTTL: cfg.EnqueueGuardTTL,
		}, a.log)
		refresher = a.Trigger
	}

	a.Feed = feed.NewService(feed.Deps{
		Candidates:    a.Repo,
		Relationships: a.Repo,
		Seen:          a.Cache,
		Actors:        directory,
		Scorer:        scorer,
		Sequencer:     sequencer,
		Segments:      a.Segments,
		Hydrator:      hydrator,
		Refresher:     refresher,
		Clock:         clock,
	}, feed.Options{
		DefaultTake:     cfg.DefaultTake,
		PostLimit:       cfg.CandidatePostLimit,
		SuggestionLimit: cfg.CandidateSuggLimit,
		QuestionLimit:   cfg.CandidateQuizLimit,
		SeenWindow:      cfg.SeenWindow,
		SegmentSize:     cfg.SegmentSize,
	}, a.log)
}

// MessageHandler builds the consumer handler. Follow-up presort requests
// from post events need the trigger and are skipped without a publisher.
func (a *App) MessageHandler() *rabbitmq.Handler {
	deps := rabbitmq.HandlerDeps{
		Presort:   a.Job,
		Segments:  a.Segments,
		Followers: a.Repo,
	}
	if a.Trigger != nil {
		deps.Trigger = a.Trigger
		deps.Guard = a.Cache
	}
	return rabbitmq.NewHandler(deps, a.log)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.log.Warn().Err(err).Msg("rabbitmq publisher close failed")
		}
	}
	if err := a.Cache.Close(); err != nil {
		a.log.Warn().Err(err).Msg("redis close failed")
	}
	_ = a.sqlDB.Close()
	a.Pool.Close()
}
