// Command presort runs one presort pass outside the server, or lists recent
// runs from job_runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/app"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/config"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/logger"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/presort"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/segment"
	"github.com/goccy/go-json"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		userID      = flag.String("user", "", "presort a single user id (batch mode when empty)")
		incremental = flag.Bool("incremental", false, "skip users whose inputs are unchanged")
		batchSize   = flag.Int("batch-size", 0, "users per page in batch mode (0 = config default)")
		segSize     = flag.Int("segment-size", 0, "items per segment (0 = config default)")
		maxSegments = flag.Int("max-segments", 0, "segments per user (0 = config default)")
		invalidate  = flag.Bool("invalidate", false, "delete the user's segments instead of presorting")
		runs        = flag.Int("runs", 0, "print the N most recent presort runs and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return 1
	}
	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Component("presort_cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}
	defer a.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case *runs > 0:
		list, err := a.Runs.RecentRuns(ctx, segment.PresortJobName, *runs)
		if err != nil {
			log.Error().Err(err).Msg("list runs failed")
			return 1
		}
		_ = enc.Encode(list)

	case *invalidate:
		if *userID == "" {
			log.Error().Msg("-invalidate requires -user")
			return 2
		}
		if err := a.Segments.InvalidateAllSegmentsForUser(ctx, *userID); err != nil {
			log.Error().Err(err).Msg("invalidate failed")
			return 1
		}
		log.Info().Str("user_id", *userID).Msg("segments invalidated")

	default:
		res, err := a.Job.Run(ctx, presort.Params{
			UserID:      *userID,
			BatchSize:   *batchSize,
			SegmentSize: *segSize,
			MaxSegments: *maxSegments,
			Incremental: *incremental,
			Trigger:     "cli",
		})
		_ = enc.Encode(res)
		if err != nil {
			log.Error().Err(err).Msg("presort failed")
			return 1
		}
		if res.Status == presort.StatusFailed {
			return 1
		}
	}
	return 0
}
