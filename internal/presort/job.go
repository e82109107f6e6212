package presort

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/validate"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/ranking"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/segment"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/tracing"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Params selects single-user mode when UserID is set, batch mode otherwise.
type Params struct {
	UserID      string `json:"userId,omitempty"`
	BatchSize   int    `json:"batchSize" validate:"gte=1,lte=1000"`
	SegmentSize int    `json:"segmentSize" validate:"gte=1,lte=200"`
	MaxSegments int    `json:"maxSegments" validate:"gte=1,lte=50"`
	Incremental bool   `json:"incremental"`
	Trigger     string `json:"trigger"`
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

type Result struct {
	Status            Status        `json:"status"`
	UsersProcessed    int           `json:"usersProcessed"`
	UsersSkipped      int           `json:"usersSkipped"`
	UsersFailed       int           `json:"usersFailed"`
	SegmentsGenerated int           `json:"segmentsGenerated"`
	ItemsSkipped      int           `json:"itemsSkipped"`
	Duration          time.Duration `json:"duration"`
	// Error is set when a batch run stopped early; the error itself is only
	// recorded through the job runner.
	Error string `json:"error,omitempty"`
}

func (r Result) summary() map[string]any {
	return map[string]any{
		"status":             string(r.Status),
		"users_processed":    r.UsersProcessed,
		"users_skipped":      r.UsersSkipped,
		"users_failed":       r.UsersFailed,
		"segments_generated": r.SegmentsGenerated,
		"items_skipped":      r.ItemsSkipped,
	}
}

// ActorDirectory resolves denormalized actor cards for presorted items.
type ActorDirectory interface {
	ActorSummaries(ctx context.Context, ids []string) (map[string]domain.ActorSummary, error)
}

type Deps struct {
	Candidates    domain.CandidateStore
	Relationships domain.RelationshipProvider
	Actors        ActorDirectory
	Users         domain.UserLister
	Scorer        *ranking.Scorer
	Segments      *segment.Store
	Freshness     *segment.Freshness
	Runner        domain.JobRunner
	Clock         domain.Clock
}

type Options struct {
	Ranking         ranking.Config
	Defaults        Params
	MaxConcurrency  int
	Interval        time.Duration
	JitterFraction  float64
	PostLimit       int
	SuggestionLimit int
	QuestionLimit   int
	SegmentTTL      time.Duration
}

type Job struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func NewJob(deps Deps, opts Options, log zerolog.Logger) *Job {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	return &Job{
		deps:  deps,
		opts:  opts,
		log:   log.With().Str("component", "presort").Logger(),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (j *Job) withDefaults(p Params) Params {
	if p.BatchSize == 0 {
		p.BatchSize = j.opts.Defaults.BatchSize
	}
	if p.SegmentSize == 0 {
		p.SegmentSize = j.opts.Defaults.SegmentSize
	}
	if p.MaxSegments == 0 {
		p.MaxSegments = j.opts.Defaults.MaxSegments
	}
	if p.Trigger == "" {
		p.Trigger = "manual"
	}
	return p
}

// Run executes one presort run through the job runner. In batch mode a
// failing user is counted and logged, and a listing failure ends the run
// with a failed or partial Result instead of an error. Only single-user
// failures and cancellation are returned.
func (j *Job) Run(ctx context.Context, p Params) (Result, error) {
	p = j.withDefaults(p)
	if err := validate.Struct(p); err != nil {
		return Result{Status: StatusFailed}, err
	}

	mode := "batch"
	scope := "all"
	if p.UserID != "" {
		mode = "single"
		scope = segment.UserScope(p.UserID)
	}
	if p.Incremental {
		mode += "_incremental"
	}

	ctx, span := tracing.StartSpan(ctx, "presort.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("presort.mode", mode),
		attribute.String("presort.trigger", p.Trigger),
		attribute.String("presort.scope", scope),
	)

	start := time.Now()
	var res Result
	body := func(ctx context.Context) (map[string]any, error) {
		var err error
		if p.UserID != "" {
			res, err = j.runSingle(ctx, p)
		} else {
			res, err = j.runBatch(ctx, p)
		}
		res.Status = status(res, err, p.UserID != "")
		return res.summary(), err
	}

	spec := domain.JobSpec{
		JobName:          segment.PresortJobName,
		Trigger:          p.Trigger,
		Scope:            scope,
		AlgorithmVersion: j.deps.Segments.AlgorithmVersion(),
		Metadata: map[string]any{
			"batch_size":   p.BatchSize,
			"segment_size": p.SegmentSize,
			"max_segments": p.MaxSegments,
			"incremental":  p.Incremental,
		},
	}

	var err error
	if j.deps.Runner != nil {
		err = j.deps.Runner.RunJob(ctx, spec, body)
	} else {
		_, err = body(ctx)
	}
	res.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
	}

	metrics.RecordPresortRun(mode, string(res.Status), res.UsersProcessed, res.UsersSkipped, res.UsersFailed, res.SegmentsGenerated, res.Duration)

	recordedOnly := err != nil && p.UserID == "" && !isCancel(err)
	if recordedOnly {
		res.Error = err.Error()
	}

	var ev *zerolog.Event
	if err != nil {
		ev = j.log.Error().Err(err)
	} else {
		ev = j.log.Info()
	}
	ev.Str("mode", mode).
		Str("trigger", p.Trigger).
		Str("scope", scope).
		Str("status", string(res.Status)).
		Int("users_processed", res.UsersProcessed).
		Int("users_skipped", res.UsersSkipped).
		Int("users_failed", res.UsersFailed).
		Int("segments_generated", res.SegmentsGenerated).
		Int("items_skipped", res.ItemsSkipped).
		Dur("duration", res.Duration).
		Msg("presort run finished")

	if recordedOnly {
		return res, nil
	}
	return res, err
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func status(r Result, err error, single bool) Status {
	switch {
	case err != nil && r.UsersProcessed+r.UsersSkipped == 0:
		return StatusFailed
	case err != nil || r.UsersFailed > 0:
		if single || r.UsersProcessed+r.UsersSkipped == 0 {
			return StatusFailed
		}
		return StatusPartial
	case r.UsersProcessed == 0 && r.UsersSkipped > 0:
		return StatusSkipped
	default:
		return StatusSuccess
	}
}

func (j *Job) runSingle(ctx context.Context, p Params) (Result, error) {
	var res Result
	out, err := j.runUser(ctx, p.UserID, p)
	if err != nil {
		res.UsersFailed = 1
		return res, fmt.Errorf("presort user %s: %w", p.UserID, err)
	}
	res.add(out)
	return res, nil
}

func (j *Job) runBatch(ctx context.Context, p Params) (Result, error) {
	var res Result

	if j.opts.JitterFraction > 0 && j.opts.Interval > 0 {
		jitter := time.Duration(rand.Float64() * j.opts.JitterFraction * float64(j.opts.Interval))
		j.log.Debug().Dur("jitter", jitter).Msg("presort batch startup jitter")
		if err := j.sleep(ctx, jitter); err != nil {
			return res, err
		}
	}

	var mu sync.Mutex
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ids, err := j.deps.Users.ListUserIDs(ctx, after, p.BatchSize)
		if err != nil {
			return res, fmt.Errorf("list users after %q: %w", after, err)
		}
		if len(ids) == 0 {
			return res, nil
		}

		var g errgroup.Group
		g.SetLimit(j.opts.MaxConcurrency)
		for _, id := range ids {
			g.Go(func() error {
				out, err := j.runUser(ctx, id, p)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.UsersFailed++
					j.log.Warn().Err(err).Str("user_id", id).Msg("presort user failed")
					return nil
				}
				res.add(out)
				return nil
			})
		}
		_ = g.Wait()

		after = ids[len(ids)-1]
		if len(ids) < p.BatchSize {
			return res, nil
		}
	}
}

type userOutcome struct {
	skipped      bool
	segments     int
	itemsSkipped int
}

func (r *Result) add(o userOutcome) {
	if o.skipped {
		r.UsersSkipped++
		return
	}
	r.UsersProcessed++
	r.SegmentsGenerated += o.segments
	r.ItemsSkipped += o.itemsSkipped
}

// hashConstants are the settings that change presort output.
type hashConstants struct {
	Weights         ranking.Weights   `json:"weights"`
	MaxPerActor     int               `json:"maxPerActor"`
	MaxTieredLead   int               `json:"maxTieredLead"`
	IdleCycles      int               `json:"idleCycles"`
	SegmentSize     int               `json:"segmentSize"`
	MaxSegments     int               `json:"maxSegments"`
	MinSegmentItems int               `json:"minSegmentItems"`
	Sequence        []domain.FeedSlot `json:"sequence"`
}

func (j *Job) constants(p Params) hashConstants {
	rc := j.opts.Ranking
	return hashConstants{
		Weights:         rc.Weights,
		MaxPerActor:     rc.MaxPerActor,
		MaxTieredLead:   rc.MaxTieredLead,
		IdleCycles:      rc.IdleCycles,
		SegmentSize:     p.SegmentSize,
		MaxSegments:     p.MaxSegments,
		MinSegmentItems: j.deps.Segments.MinSegmentItems(),
		Sequence:        rc.Sequence,
	}
}

// runUser is Candidate -> Dedupe -> Score(presort) -> Sequence -> convert ->
// segments for one user. All segments are written in one transaction.
func (j *Job) runUser(ctx context.Context, userID string, p Params) (userOutcome, error) {
	log := j.log.With().Str("user_id", userID).Logger()
	scope := segment.UserScope(userID)

	hash, fresh, err := j.deps.Freshness.Check(ctx, segment.PresortJobName, scope, userID, j.deps.Segments.AlgorithmVersion(), j.constants(p))
	if err != nil {
		log.Warn().Err(err).Msg("freshness check failed, recomputing")
		hash = ""
	}

	if fresh || p.Incremental {
		_, err := j.deps.Segments.GetSegment(ctx, userID, 0)
		if err == nil {
			log.Debug().Bool("fresh", fresh).Bool("incremental", p.Incremental).Msg("segment 0 still valid, skipping")
			return userOutcome{skipped: true}, nil
		}
		if !domain.IsSegmentMiss(err) {
			log.Warn().Err(err).Msg("segment 0 lookup failed, recomputing")
		}
	}

	rels := domain.Relationships{}
	if j.deps.Relationships != nil {
		r, err := j.deps.Relationships.Relationships(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Msg("relationships lookup failed")
		} else {
			rels = r
		}
	}

	set, err := j.deps.Candidates.FetchCandidates(ctx, domain.CandidateQuery{
		ViewerID:        userID,
		PostLimit:       j.opts.PostLimit,
		SuggestionLimit: j.opts.SuggestionLimit,
		QuestionLimit:   j.opts.QuestionLimit,
	})
	if err != nil {
		return userOutcome{}, fmt.Errorf("fetch candidates: %w", err)
	}
	set = ranking.Dedupe(set)
	pools := j.deps.Scorer.ScoreSet(ctx, userID, set, ranking.ModePresort)

	total := p.SegmentSize * p.MaxSegments
	cfg := j.opts.Ranking
	cfg.MaxItemsPerResponse = total
	// seeded by user so reruns on unchanged inputs keep suggestion order
	seed := ranking.SeedFromString(userID)
	seq := ranking.NewSequencer(cfg, j.log).Sequence(ranking.Input{
		ViewerID:      userID,
		Pools:         pools,
		Relationships: rels,
		Take:          total,
		Seed:          &seed,
	})

	items := ToPresorted(ctx, j.deps.Actors, seq.Entries, log)
	segs := Chunk(items, p.SegmentSize, p.MaxSegments)

	if len(segs) == 0 || len(segs[0].Items) < j.deps.Segments.MinSegmentItems() {
		// a thin first page is worse than a live read; drop what was stored
		if err := j.deps.Segments.ReplaceSegments(ctx, userID, nil); err != nil {
			return userOutcome{}, fmt.Errorf("clear thin segments: %w", err)
		}
		log.Debug().Int("items", len(items)).Msg("too few items for segment 0")
		return userOutcome{itemsSkipped: len(items)}, nil
	}

	now := j.deps.Clock.Now()
	for i := range segs {
		phase1, err := json.Marshal(domain.Phase1Items(segs[i].Items))
		if err != nil {
			return userOutcome{}, fmt.Errorf("encode phase1 segment %d: %w", i, err)
		}
		s := string(phase1)
		segs[i].Phase1JSON = &s
		segs[i].ComputedAt = now
		if j.opts.SegmentTTL > 0 {
			segs[i].ExpiresAt = now.Add(j.opts.SegmentTTL)
		}
	}

	if err := j.deps.Segments.ReplaceSegments(ctx, userID, segs); err != nil {
		return userOutcome{}, fmt.Errorf("write segments: %w", err)
	}

	if hash != "" {
		if err := j.deps.Freshness.Record(ctx, segment.PresortJobName, scope, hash); err != nil {
			log.Warn().Err(err).Msg("record freshness failed")
		}
	}
	return userOutcome{segments: len(segs)}, nil
}

// ToPresorted converts sequenced entries, attaching actor cards. A failed
// actor lookup leaves names blank.
func ToPresorted(ctx context.Context, actors ActorDirectory, entries []domain.Entry, log zerolog.Logger) []domain.PresortedFeedItem {
	var summaries map[string]domain.ActorSummary
	if actors != nil {
		ids := actorIDs(entries)
		if len(ids) > 0 {
			m, err := actors.ActorSummaries(ctx, ids)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Int("actors", len(ids)).Msg("actor summary lookup failed")
			}
			summaries = m
		}
	}
	out := make([]domain.PresortedFeedItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.NewPresortedItem(e, summaries))
	}
	return out
}

func actorIDs(entries []domain.Entry) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, e := range entries {
		for _, it := range e.Leaves() {
			if it.ActorID == "" {
				continue
			}
			if _, ok := seen[it.ActorID]; ok {
				continue
			}
			seen[it.ActorID] = struct{}{}
			ids = append(ids, it.ActorID)
		}
	}
	return ids
}

// Chunk splits items into at most maxSegments segments of size entries; a
// grid counts as one entry.
func Chunk(items []domain.PresortedFeedItem, size, maxSegments int) []domain.Segment {
	if size < 1 {
		return nil
	}
	var segs []domain.Segment
	var oldest *domain.PostCandidate
	for i := 0; i < len(items) && len(segs) < maxSegments; i += size {
		end := min(i+size, len(items))
		for _, it := range items[i:end] {
			if p := domain.OldestPost([]domain.Entry{it.Entry()}); p != nil && (oldest == nil || p.OlderThan(oldest)) {
				oldest = p
			}
		}
		seg := domain.Segment{Index: len(segs), Items: items[i:end]}
		if oldest != nil {
			seg.ResumeAfter = oldest.ID
		}
		segs = append(segs, seg)
	}
	return segs
}
