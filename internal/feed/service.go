package feed

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	appCtx "github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/context"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/presort"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/ranking"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/tracing"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	PathSegment = "segment"
	PathLive    = "live"
	PathEmpty   = "empty"
)

type Request struct {
	ViewerID string
	CursorID string
	Lite     bool
	Debug    bool
	Take     int
}

type Response struct {
	Items        []domain.HydratedEntry `json:"items"`
	NextCursorID *string                `json:"nextCursorId"`
	HasMorePosts bool                   `json:"hasMorePosts"`
	Debug        *Debug                 `json:"debug,omitempty"`
}

type LiteResponse struct {
	Items        []domain.Phase1LeafItem `json:"items"`
	NextCursorID *string                 `json:"nextCursorId"`
	Debug        *Debug                  `json:"debug,omitempty"`
}

// Result carries exactly one of Full and Lite, matching Request.Lite.
type Result struct {
	Full *Response
	Lite *LiteResponse
}

type CandidateCounts struct {
	Posts       int `json:"posts"`
	Suggestions int `json:"suggestions"`
	Questions   int `json:"questions"`
	AfterDedupe int `json:"afterDedupe"`
}

type ScoreDebug struct {
	Key       string            `json:"key"`
	Score     float64           `json:"score"`
	Breakdown ranking.Breakdown `json:"breakdown"`
}

type Debug struct {
	Path         string               `json:"path"`
	Cursor       string               `json:"cursor,omitempty"`
	SegmentIndex *int                 `json:"segmentIndex,omitempty"`
	SegmentMiss  string               `json:"segmentMiss,omitempty"`
	SeenDemoted  int                  `json:"seenDemoted"`
	Candidates   *CandidateCounts     `json:"candidates,omitempty"`
	Ranking      *ranking.Diagnostics `json:"ranking,omitempty"`
	Scores       []ScoreDebug         `json:"scores,omitempty"`
}

type SegmentReader interface {
	GetSegment(ctx context.Context, userID string, index int) (*domain.Segment, error)
}

type EntryHydrator interface {
	Hydrate(ctx context.Context, viewerID string, entries []domain.Entry) []domain.HydratedEntry
}

// Refresher receives fire-and-forget presort requests.
type Refresher interface {
	Request(task domain.PresortTask) bool
}

type Deps struct {
	Candidates    domain.CandidateStore
	Relationships domain.RelationshipProvider
	Seen          domain.SeenStore
	Actors        presort.ActorDirectory
	Scorer        *ranking.Scorer
	Sequencer     *ranking.Sequencer
	Segments      SegmentReader
	Hydrator      EntryHydrator
	Refresher     Refresher
	Clock         domain.Clock
}

type Options struct {
	DefaultTake     int
	PostLimit       int
	SuggestionLimit int
	QuestionLimit   int
	SeenWindow      time.Duration
	// SegmentSize is the presort chunk size. Only the final segment of a
	// presorted feed is shorter.
	SegmentSize int
}

type Service struct {
	deps Deps
	opts Options
	log  zerolog.Logger
}

func NewService(deps Deps, opts Options, log zerolog.Logger) *Service {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if opts.DefaultTake < 1 {
		opts.DefaultTake = 20
	}
	return &Service{deps: deps, opts: opts, log: log.With().Str("component", "feed").Logger()}
}

// page is one served slice before hydration. phase1 is the stored lite
// payload and is only set while presorted is in stored order. next is empty
// unless hasMore.
type page struct {
	path      string
	entries   []domain.Entry
	presorted []domain.PresortedFeedItem
	phase1    *string
	next      string
	hasMore   bool
}

// GetFeed serves a segment when one is usable and falls back to the live
// pipeline otherwise. Ranking failures degrade to an empty page; only a
// missing viewer is an error.
func (s *Service) GetFeed(ctx context.Context, req Request) (Result, error) {
	if req.ViewerID == "" {
		return Result{}, domain.ErrValidation("viewer id is required")
	}

	ctx, span := tracing.StartSpan(ctx, "feed.get")
	defer span.End()

	take := req.Take
	if take <= 0 {
		take = s.opts.DefaultTake
	}

	var dbg *Debug
	if req.Debug {
		dbg = &Debug{Cursor: req.CursorID}
	}

	cur, hasCursor := DecodeCursor(req.CursorID)
	if req.CursorID != "" && !hasCursor {
		s.log.Debug().Str("viewer_id", req.ViewerID).Str("cursor", req.CursorID).Msg("ignoring invalid cursor")
	}

	var pg *page
	if !hasCursor || cur.Segment {
		pg = s.fromSegment(ctx, req.ViewerID, cur.SegmentIndex, dbg)
	}
	if pg == nil {
		pg = s.live(ctx, req.ViewerID, cur.PostID, take, dbg)
	}
	if len(pg.entries) == 0 {
		pg.path = PathEmpty
	}
	if dbg != nil {
		dbg.Path = pg.path
	}
	span.SetAttributes(attribute.String("feed.path", pg.path), attribute.Int("feed.items", len(pg.entries)))
	metrics.RecordFeedRead(pg.path)

	var next *string
	if pg.next != "" {
		n := pg.next
		next = &n
	}

	var res Result
	if req.Lite {
		res.Lite = &LiteResponse{Items: s.lite(ctx, pg), NextCursorID: next, Debug: dbg}
	} else {
		items := []domain.HydratedEntry{}
		if len(pg.entries) > 0 {
			items = s.deps.Hydrator.Hydrate(ctx, req.ViewerID, pg.entries)
		}
		res.Full = &Response{Items: items, NextCursorID: next, HasMorePosts: pg.hasMore, Debug: dbg}
	}

	s.recordImpressions(ctx, req.ViewerID, pg.entries)
	if s.deps.Refresher != nil {
		s.deps.Refresher.Request(domain.PresortTask{UserID: req.ViewerID, Trigger: "feed_read_" + pg.path})
	}
	return res, nil
}

// fromSegment returns nil on any segment miss.
func (s *Service) fromSegment(ctx context.Context, viewerID string, index int, dbg *Debug) *page {
	if s.deps.Segments == nil {
		return nil
	}
	seg, err := s.deps.Segments.GetSegment(ctx, viewerID, index)
	if err != nil {
		if !domain.IsSegmentMiss(err) {
			s.log.Warn().Err(err).Str("viewer_id", viewerID).Int("segment", index).Msg("segment read failed")
		}
		if dbg != nil {
			dbg.SegmentMiss = missReason(err)
		}
		return nil
	}

	items := seg.Items
	phase1 := seg.Phase1JSON
	if s.deps.Seen != nil && len(items) > 0 {
		lastSeen, err := s.deps.Seen.LastSeen(ctx, viewerID, presortedKeys(items))
		if err != nil {
			s.log.Warn().Err(err).Str("viewer_id", viewerID).Msg("seen lookup failed")
		}
		var demoted int
		items, demoted = demoteSeen(items, lastSeen, s.deps.Clock.Now(), s.opts.SeenWindow)
		if demoted > 0 {
			phase1 = nil
		}
		if dbg != nil {
			dbg.SeenDemoted = demoted
		}
	}

	entries := make([]domain.Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, it.Entry())
	}
	if dbg != nil {
		idx := index
		dbg.SegmentIndex = &idx
	}
	pg := &page{
		path:      PathSegment,
		entries:   entries,
		presorted: items,
		phase1:    phase1,
	}
	// a short segment is the last one presort wrote; a full one continues in
	// the next segment or live below the oldest post served so far
	resumeAfter := seg.ResumeAfter
	if resumeAfter == "" {
		if oldest := domain.OldestPost(entries); oldest != nil {
			resumeAfter = oldest.ID
		}
	}
	if resumeAfter != "" && (s.opts.SegmentSize <= 0 || len(seg.Items) >= s.opts.SegmentSize) {
		pg.hasMore = true
		pg.next = SegmentCursor(index+1, resumeAfter)
	}
	return pg
}

func missReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSegmentNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrSegmentExpired):
		return "expired"
	case errors.Is(err, domain.ErrSegmentTooThin):
		return "too_thin"
	case errors.Is(err, domain.ErrSegmentVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, domain.ErrSegmentCorrupt):
		return "corrupt"
	default:
		return "error"
	}
}

// live runs Candidate -> Dedupe -> Score(with seen) -> Sequence.
func (s *Service) live(ctx context.Context, viewerID, afterPostID string, take int, dbg *Debug) *page {
	pg := &page{path: PathLive}

	set, err := s.deps.Candidates.FetchCandidates(ctx, domain.CandidateQuery{
		ViewerID:        viewerID,
		AfterPostID:     afterPostID,
		PostLimit:       s.opts.PostLimit,
		SuggestionLimit: s.opts.SuggestionLimit,
		QuestionLimit:   s.opts.QuestionLimit,
	})
	if err != nil {
		s.log.Error().Err(err).Str("viewer_id", viewerID).Msg("candidate fetch failed")
		return pg
	}

	rels := domain.Relationships{}
	if s.deps.Relationships != nil {
		r, err := s.deps.Relationships.Relationships(ctx, viewerID)
		if err != nil {
			s.log.Warn().Err(err).Str("viewer_id", viewerID).Msg("relationships lookup failed")
		} else {
			rels = r
		}
	}

	deduped := ranking.Dedupe(set)
	pools := s.deps.Scorer.ScoreSet(ctx, viewerID, deduped, ranking.ModeRequest)
	seed := liveSeed(ctx, viewerID)
	res := s.deps.Sequencer.Sequence(ranking.Input{
		ViewerID:      viewerID,
		Pools:         pools,
		Relationships: rels,
		Take:          take,
		Seed:          &seed,
	})

	pg.entries = res.Entries

	// the next page starts below the oldest emitted post; unemitted posts
	// newer than it were ranked out of this page
	if oldest := domain.OldestPost(res.Entries); oldest != nil {
		pg.hasMore = s.opts.PostLimit > 0 && len(set.Posts) >= s.opts.PostLimit
		for _, p := range deduped.Posts {
			if p.OlderThan(oldest) {
				pg.hasMore = true
				break
			}
		}
		if pg.hasMore {
			pg.next = oldest.ID
		}
	}

	if dbg != nil {
		dbg.Candidates = &CandidateCounts{
			Posts:       len(set.Posts),
			Suggestions: len(set.Suggestions),
			Questions:   len(set.Questions),
			AfterDedupe: deduped.Len(),
		}
		diag := res.Diagnostics
		dbg.Ranking = &diag
		dbg.Scores = scoreDebug(pools)
	}
	return pg
}

// liveSeed keys the suggestion tie-break to the request, falling back to the
// viewer when no request id is set.
func liveSeed(ctx context.Context, viewerID string) uint64 {
	if id := appCtx.GetRequestID(ctx); id != "" {
		return ranking.SeedFromString(id)
	}
	return ranking.SeedFromString(viewerID)
}

func scoreDebug(p ranking.Pools) []ScoreDebug {
	out := make([]ScoreDebug, 0, p.Len())
	for _, pool := range [][]ranking.Scored{p.Posts, p.Suggestions, p.Questions} {
		for _, sc := range pool {
			out = append(out, ScoreDebug{Key: sc.Candidate.Key(), Score: sc.Score, Breakdown: sc.Breakdown})
		}
	}
	return out
}

// lite serves the stored phase1 payload when the segment order is
// untouched, and builds leaves otherwise.
func (s *Service) lite(ctx context.Context, pg *page) []domain.Phase1LeafItem {
	if pg.phase1 != nil {
		var leaves []domain.Phase1LeafItem
		err := json.Unmarshal([]byte(*pg.phase1), &leaves)
		if err == nil {
			return leaves
		}
		s.log.Warn().Err(err).Msg("stored phase1 payload unreadable, rebuilding")
	}
	items := pg.presorted
	if items == nil {
		items = presort.ToPresorted(ctx, s.deps.Actors, pg.entries, s.log)
	}
	return domain.Phase1Items(items)
}

func (s *Service) recordImpressions(ctx context.Context, viewerID string, entries []domain.Entry) {
	if s.deps.Seen == nil || len(entries) == 0 {
		return
	}
	if err := s.deps.Seen.MarkSeen(ctx, viewerID, entryKeys(entries), s.deps.Clock.Now()); err != nil {
		s.log.Warn().Err(err).Str("viewer_id", viewerID).Msg("record impressions failed")
	}
}
