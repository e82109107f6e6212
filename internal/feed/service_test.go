package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	appCtx "github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/context"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/ranking"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	post1 = "11111111-1111-4111-8111-111111111111"
	post2 = "22222222-2222-4222-8222-222222222222"
	post3 = "33333333-3333-4333-8333-333333333333"
	post4 = "44444444-4444-4444-8444-444444444444"
	post5 = "55555555-5555-4555-8555-555555555555"
)

// postAge makes post1 the newest and post5 the oldest.
var postAge = map[string]time.Duration{post1: 0, post2: time.Hour, post3: 2 * time.Hour, post4: 3 * time.Hour, post5: 4 * time.Hour}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubSegments struct {
	segs map[int]*domain.Segment
	err  error
	asks []int
}

func (s *stubSegments) GetSegment(_ context.Context, _ string, index int) (*domain.Segment, error) {
	s.asks = append(s.asks, index)
	if s.err != nil {
		return nil, s.err
	}
	seg, ok := s.segs[index]
	if !ok {
		return nil, domain.ErrSegmentNotFound
	}
	return seg, nil
}

type stubCandidates struct {
	set     domain.CandidateSet
	err     error
	queries []domain.CandidateQuery
}

func (s *stubCandidates) FetchCandidates(_ context.Context, q domain.CandidateQuery) (domain.CandidateSet, error) {
	s.queries = append(s.queries, q)
	return s.set, s.err
}

type stubSeen struct {
	mu     sync.Mutex
	last   map[string]time.Time
	err    error
	marked []string
}

func (s *stubSeen) LastSeen(_ context.Context, _ string, keys []string) (map[string]time.Time, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]time.Time{}
	for _, k := range keys {
		if at, ok := s.last[k]; ok {
			out[k] = at
		}
	}
	return out, nil
}

func (s *stubSeen) MarkSeen(_ context.Context, _ string, keys []string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, keys...)
	return nil
}

type passHydrator struct{ calls int }

func (h *passHydrator) Hydrate(_ context.Context, _ string, entries []domain.Entry) []domain.HydratedEntry {
	h.calls++
	out := make([]domain.HydratedEntry, 0, len(entries))
	for _, e := range entries {
		if e.Grid != nil {
			g := &domain.HydratedGrid{Presentation: e.Grid.Presentation}
			for _, it := range e.Grid.Items {
				g.Items = append(g.Items, domain.HydratedItem{FeedItem: it})
			}
			out = append(out, domain.HydratedEntry{Type: domain.ItemGrid, Grid: g})
			continue
		}
		out = append(out, domain.HydratedEntry{Type: e.Item.Type, Item: &domain.HydratedItem{FeedItem: *e.Item}})
	}
	return out
}

type recordingRefresher struct{ tasks []domain.PresortTask }

func (r *recordingRefresher) Request(task domain.PresortTask) bool {
	r.tasks = append(r.tasks, task)
	return true
}

type fixture struct {
	svc        *Service
	segments   *stubSegments
	candidates *stubCandidates
	seen       *stubSeen
	hydrator   *passHydrator
	refresher  *recordingRefresher
}

// keysetCandidates pages posts newest first below AfterPostID by
// (CreatedAt, ID), the way the store does.
type keysetCandidates struct {
	posts   []*domain.PostCandidate
	queries []domain.CandidateQuery
}

func (k *keysetCandidates) FetchCandidates(_ context.Context, q domain.CandidateQuery) (domain.CandidateSet, error) {
	k.queries = append(k.queries, q)
	var cursor *domain.PostCandidate
	for _, p := range k.posts {
		if p.ID == q.AfterPostID {
			cursor = p
		}
	}
	var set domain.CandidateSet
	for _, p := range k.posts {
		if cursor != nil && !p.OlderThan(cursor) {
			continue
		}
		set.Posts = append(set.Posts, p)
		if len(set.Posts) == q.PostLimit {
			break
		}
	}
	return set, nil
}

func newFixture(tweaks ...func(*Deps, *Options)) *fixture {
	f := &fixture{
		segments:   &stubSegments{segs: map[int]*domain.Segment{}},
		candidates: &stubCandidates{},
		seen:       &stubSeen{last: map[string]time.Time{}},
		hydrator:   &passHydrator{},
		refresher:  &recordingRefresher{},
	}
	clock := fixedClock{t0}
	rc := ranking.Config{
		Weights:             ranking.Weights{Recency: 1, SeenPenalty: 0.5},
		SeenWindow:          24 * time.Hour,
		MaxPerActor:         3,
		MaxItemsPerResponse: 50,
		IdleCycles:          1,
		Sequence:            []domain.FeedSlot{{Kind: domain.SlotPost}},
	}
	log := zerolog.Nop()
	deps := Deps{
		Candidates: f.candidates,
		Seen:       f.seen,
		Scorer:     ranking.NewScorer(rc, nil, f.seen, clock, log),
		Sequencer:  ranking.NewSequencer(rc, log),
		Segments:   f.segments,
		Hydrator:   f.hydrator,
		Refresher:  f.refresher,
		Clock:      clock,
	}
	opts := Options{DefaultTake: 10, PostLimit: 100, SeenWindow: 24 * time.Hour, SegmentSize: 2}
	for _, tweak := range tweaks {
		tweak(&deps, &opts)
	}
	f.svc = NewService(deps, opts, log)
	return f
}

func presortedPost(id, author string) domain.PresortedFeedItem {
	return domain.PresortedFeedItem{
		Type:      domain.ItemPost,
		ActorID:   author,
		ActorName: "name-" + author,
		Post:      &domain.PostCandidate{ID: id, AuthorID: author, Text: "text " + id, CreatedAt: t0.Add(-postAge[id])},
	}
}

func segmentOf(index int, items ...domain.PresortedFeedItem) *domain.Segment {
	return &domain.Segment{Index: index, Items: items, AlgorithmVersion: "v9"}
}

func itemIDs(items []domain.HydratedEntry) []string {
	var ids []string
	for _, e := range items {
		if e.Item != nil && e.Item.Post != nil {
			ids = append(ids, e.Item.Post.ID)
		}
	}
	return ids
}

func TestGetFeed_ServesSegmentZero(t *testing.T) {
	f := newFixture()
	f.segments.segs[0] = segmentOf(0, presortedPost(post1, "a"), presortedPost(post2, "b"))

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", Debug: true})
	require.NoError(t, err)
	require.NotNil(t, res.Full)

	assert.Equal(t, []string{post1, post2}, itemIDs(res.Full.Items))
	require.NotNil(t, res.Full.NextCursorID)
	assert.Equal(t, "seg.1."+post2, *res.Full.NextCursorID)
	assert.True(t, res.Full.HasMorePosts)
	assert.Equal(t, PathSegment, res.Full.Debug.Path)
	assert.Empty(t, f.candidates.queries, "segment hit must not run the live pipeline")

	assert.ElementsMatch(t, []string{"post:" + post1, "post:" + post2}, f.seen.marked)
	require.Len(t, f.refresher.tasks, 1)
	assert.Equal(t, "v1", f.refresher.tasks[0].UserID)
}

func TestGetFeed_SeenDemotionIsStable(t *testing.T) {
	f := newFixture()
	phase1 := `[{"id":"stored"}]`
	seg := segmentOf(0, presortedPost(post1, "a"), presortedPost(post2, "b"), presortedPost(post3, "c"), presortedPost(post4, "d"))
	seg.Phase1JSON = &phase1
	f.segments.segs[0] = seg

	f.seen.last["post:"+post1] = t0.Add(-time.Hour)
	f.seen.last["post:"+post3] = t0.Add(-30 * time.Hour)

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", Debug: true})
	require.NoError(t, err)
	assert.Equal(t, []string{post2, post3, post4, post1}, itemIDs(res.Full.Items))
	assert.Equal(t, 1, res.Full.Debug.SeenDemoted)
	require.NotNil(t, res.Full.NextCursorID)
	assert.Equal(t, "seg.1."+post4, *res.Full.NextCursorID, "cursor is the oldest post, not the last shown")

	lite, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", Lite: true})
	require.NoError(t, err)
	require.Len(t, lite.Lite.Items, 4)
	assert.Equal(t, post2, lite.Lite.Items[0].ID, "reordered segment rebuilds lite items")
	assert.Equal(t, "name-b", lite.Lite.Items[0].Actor.Name)
}

func TestGetFeed_LiteServesStoredPayload(t *testing.T) {
	f := newFixture()
	phase1 := `[{"id":"stored","kind":"post","actor":{"id":"a","name":"A","avatarUrl":""},"textPreview":"x","createdAt":null,"presentation":null}]`
	seg := segmentOf(0, presortedPost(post1, "a"))
	seg.Phase1JSON = &phase1
	f.segments.segs[0] = seg

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", Lite: true})
	require.NoError(t, err)
	require.Nil(t, res.Full)
	require.Len(t, res.Lite.Items, 1)
	assert.Equal(t, "stored", res.Lite.Items[0].ID)
	assert.Equal(t, 0, f.hydrator.calls)
}

func TestGetFeed_SegmentMissFallsBackToLive(t *testing.T) {
	f := newFixture()
	f.candidates.set = domain.CandidateSet{
		Posts: []*domain.PostCandidate{
			{ID: post1, AuthorID: "a", CreatedAt: t0},
			{ID: post2, AuthorID: "b", CreatedAt: t0.Add(-time.Hour)},
		},
		Suggestions: []*domain.SuggestionCandidate{{UserID: "a"}},
	}

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", Debug: true})
	require.NoError(t, err)

	assert.Equal(t, []string{post1, post2}, itemIDs(res.Full.Items))
	assert.Nil(t, res.Full.NextCursorID)
	assert.False(t, res.Full.HasMorePosts)

	d := res.Full.Debug
	assert.Equal(t, PathLive, d.Path)
	assert.Equal(t, "not_found", d.SegmentMiss)
	require.NotNil(t, d.Candidates)
	assert.Equal(t, 2, d.Candidates.AfterDedupe, "suggestion for a post author is dropped")
	require.NotNil(t, d.Ranking)
	assert.Equal(t, 2, d.Ranking.Emitted)
	assert.Len(t, d.Scores, 2)

	require.Len(t, f.refresher.tasks, 1)
	assert.Equal(t, "feed_read_live", f.refresher.tasks[0].Trigger)
}

func TestGetFeed_LiveAppliesSeenPenalty(t *testing.T) {
	f := newFixture()
	f.candidates.set = domain.CandidateSet{
		Posts: []*domain.PostCandidate{
			{ID: post1, AuthorID: "a", CreatedAt: t0},
			{ID: post2, AuthorID: "b", CreatedAt: t0.Add(-time.Hour)},
		},
	}
	f.seen.last["post:"+post1] = t0.Add(-time.Hour)

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, []string{post2, post1}, itemIDs(res.Full.Items))
}

func TestGetFeed_InvalidCursorTreatedAsAbsent(t *testing.T) {
	f := newFixture()
	f.segments.segs[0] = segmentOf(0, presortedPost(post1, "a"))

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", CursorID: "not-a-cursor"})
	require.NoError(t, err)
	assert.Equal(t, []string{post1}, itemIDs(res.Full.Items))
	assert.Equal(t, []int{0}, f.segments.asks)
}

func TestGetFeed_PostCursorGoesLive(t *testing.T) {
	f := newFixture()
	f.segments.segs[0] = segmentOf(0, presortedPost(post1, "a"))
	f.candidates.set = domain.CandidateSet{Posts: []*domain.PostCandidate{{ID: post3, AuthorID: "c", CreatedAt: t0}}}

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", CursorID: post1})
	require.NoError(t, err)
	assert.Equal(t, []string{post3}, itemIDs(res.Full.Items))
	assert.Empty(t, f.segments.asks)
	require.Len(t, f.candidates.queries, 1)
	assert.Equal(t, post1, f.candidates.queries[0].AfterPostID)
}

func TestGetFeed_SegmentCursor(t *testing.T) {
	f := newFixture()
	f.segments.segs[1] = segmentOf(1, presortedPost(post3, "c"), presortedPost(post4, "d"))

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", CursorID: SegmentCursor(1, post2)})
	require.NoError(t, err)
	assert.Equal(t, []string{post3, post4}, itemIDs(res.Full.Items))
	require.NotNil(t, res.Full.NextCursorID)
	assert.Equal(t, "seg.2."+post4, *res.Full.NextCursorID)

	// segment 2 is missing, so continue live below the oldest served post
	f.candidates.set = domain.CandidateSet{Posts: []*domain.PostCandidate{{ID: post5, AuthorID: "e", CreatedAt: t0.Add(-postAge[post5])}}}
	res, err = f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", CursorID: *res.Full.NextCursorID})
	require.NoError(t, err)
	assert.Equal(t, []string{post5}, itemIDs(res.Full.Items))
	require.Len(t, f.candidates.queries, 1)
	assert.Equal(t, post4, f.candidates.queries[0].AfterPostID)
	assert.Nil(t, res.Full.NextCursorID)
}

func TestGetFeed_SegmentCursorUsesStoredResumePoint(t *testing.T) {
	f := newFixture()
	seg := segmentOf(1, presortedPost(post1, "a"), presortedPost(post2, "b"))
	// segment 0 already served post4
	seg.ResumeAfter = post4
	f.segments.segs[1] = seg

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", CursorID: SegmentCursor(1, post4)})
	require.NoError(t, err)
	require.NotNil(t, res.Full.NextCursorID)
	assert.Equal(t, "seg.2."+post4, *res.Full.NextCursorID)
}

func TestGetFeed_ShortSegmentEndsPagination(t *testing.T) {
	f := newFixture()
	f.segments.segs[0] = segmentOf(0, presortedPost(post1, "a"))

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, []string{post1}, itemIDs(res.Full.Items))
	assert.False(t, res.Full.HasMorePosts)
	assert.Nil(t, res.Full.NextCursorID)
}

func TestGetFeed_LivePagesNeverRepeatPosts(t *testing.T) {
	store := &keysetCandidates{}
	for i, id := range []string{post1, post2, post3, post4, post5} {
		store.posts = append(store.posts, &domain.PostCandidate{ID: id, AuthorID: fmt.Sprintf("a%d", i), CreatedAt: t0.Add(-postAge[id])})
	}
	f := newFixture(func(d *Deps, o *Options) {
		d.Candidates = store
		o.PostLimit = 3
	})
	// the newest post was seen recently and sinks to the end of page one
	f.seen.last["post:"+post1] = t0.Add(-time.Hour)
	ctx := context.Background()

	first, err := f.svc.GetFeed(ctx, Request{ViewerID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, []string{post2, post3, post1}, itemIDs(first.Full.Items))
	assert.True(t, first.Full.HasMorePosts)
	require.NotNil(t, first.Full.NextCursorID)
	assert.Equal(t, post3, *first.Full.NextCursorID)

	second, err := f.svc.GetFeed(ctx, Request{ViewerID: "v1", CursorID: *first.Full.NextCursorID})
	require.NoError(t, err)
	assert.Equal(t, []string{post4, post5}, itemIDs(second.Full.Items))
	assert.False(t, second.Full.HasMorePosts)
	assert.Nil(t, second.Full.NextCursorID)

	served := map[string]int{}
	for _, id := range append(itemIDs(first.Full.Items), itemIDs(second.Full.Items)...) {
		served[id]++
	}
	assert.Len(t, served, 5)
	for id, n := range served {
		assert.Equal(t, 1, n, "post %s served more than once", id)
	}
}

func TestGetFeed_LiveSeedsSuggestionOrderFromRequestID(t *testing.T) {
	rc := ranking.Config{
		Weights:             ranking.Weights{Recency: 1},
		MaxPerActor:         3,
		MaxItemsPerResponse: 50,
		IdleCycles:          1,
		Sequence:            []domain.FeedSlot{{Kind: domain.SlotSuggestion}},
	}
	f := newFixture(func(d *Deps, _ *Options) {
		d.Sequencer = ranking.NewSequencer(rc, zerolog.Nop())
	})
	var scored []ranking.Scored
	for i := 0; i < 12; i++ {
		sg := &domain.SuggestionCandidate{UserID: fmt.Sprintf("s%02d", i), From: domain.SourceSuggested}
		f.candidates.set.Suggestions = append(f.candidates.set.Suggestions, sg)
		scored = append(scored, ranking.Scored{Candidate: sg})
	}

	suggestionIDs := func(items []domain.HydratedEntry) []string {
		var ids []string
		for _, e := range items {
			if e.Item != nil && e.Item.Suggestion != nil {
				ids = append(ids, e.Item.Suggestion.UserID)
			}
		}
		return ids
	}

	ctx := appCtx.WithRequestID(context.Background(), "req-a")
	res, err := f.svc.GetFeed(ctx, Request{ViewerID: "v1"})
	require.NoError(t, err)
	got := suggestionIDs(res.Full.Items)
	require.Len(t, got, 10)

	seed := ranking.SeedFromString("req-a")
	want := ranking.NewSequencer(rc, zerolog.Nop()).Sequence(ranking.Input{
		ViewerID: "v1",
		Pools:    ranking.Pools{Suggestions: scored},
		Take:     10,
		Seed:     &seed,
	})
	var wantIDs []string
	for _, e := range want.Entries {
		wantIDs = append(wantIDs, e.Item.Suggestion.UserID)
	}
	assert.Equal(t, wantIDs, got)

	var candidateOrder []string
	for i := 0; i < 10; i++ {
		candidateOrder = append(candidateOrder, fmt.Sprintf("s%02d", i))
	}
	assert.NotEqual(t, candidateOrder, got, "equal scores are shuffled by the request seed")

	again, err := f.svc.GetFeed(ctx, Request{ViewerID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, got, suggestionIDs(again.Full.Items))
}

func TestGetFeed_CandidateFailureIsEmpty(t *testing.T) {
	f := newFixture()
	f.candidates.err = errors.New("db down")

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1", Debug: true})
	require.NoError(t, err)
	assert.NotNil(t, res.Full.Items)
	assert.Empty(t, res.Full.Items)
	assert.Nil(t, res.Full.NextCursorID)
	assert.Equal(t, PathEmpty, res.Full.Debug.Path)
	assert.Equal(t, 0, f.hydrator.calls)
	require.Len(t, f.refresher.tasks, 1)
}

func TestGetFeed_SeenFailureStillServes(t *testing.T) {
	f := newFixture()
	f.seen.err = errors.New("redis down")
	f.segments.segs[0] = segmentOf(0, presortedPost(post1, "a"), presortedPost(post2, "b"))

	res, err := f.svc.GetFeed(context.Background(), Request{ViewerID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, []string{post1, post2}, itemIDs(res.Full.Items))
}

func TestGetFeed_RequiresViewer(t *testing.T) {
	f := newFixture()
	_, err := f.svc.GetFeed(context.Background(), Request{})

	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, domain.CodeValidation, appErr.Code)
}
