package hydrate

import (
	"context"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/tracing"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// FetchTimeout bounds each enrichment fetch; zero means the caller's deadline.
	FetchTimeout time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		FetchTimeout:    300 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Hydrator merges presentation data onto ranked entries. Every enrichment
// is fetched once per call and a failing fetch only blanks its own fields.
type Hydrator struct {
	store   domain.HydrationStore
	matches domain.MatchScoreProvider
	signer  domain.MediaURLSigner
	breaker *gobreaker.CircuitBreaker[map[string]domain.MatchScore]
	opts    Options
	log     zerolog.Logger
}

func New(store domain.HydrationStore, matches domain.MatchScoreProvider, signer domain.MediaURLSigner, opts Options, log zerolog.Logger) *Hydrator {
	h := &Hydrator{
		store:   store,
		matches: matches,
		signer:  signer,
		opts:    opts,
		log:     log.With().Str("component", "hydrator").Logger(),
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	h.breaker = gobreaker.NewCircuitBreaker[map[string]domain.MatchScore](gobreaker.Settings{
		Name:        "compatibility",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return h
}

type lookups struct {
	actorIDs  []string
	postIDs   []string
	matchIDs  []string
	hasLeaves bool
}

func collect(entries []domain.Entry) lookups {
	var l lookups
	actors := map[string]struct{}{}
	posts := map[string]struct{}{}
	matchUsers := map[string]struct{}{}
	for _, e := range entries {
		for _, it := range e.Leaves() {
			l.hasLeaves = true
			if it.ActorID != "" {
				if _, ok := actors[it.ActorID]; !ok {
					actors[it.ActorID] = struct{}{}
					l.actorIDs = append(l.actorIDs, it.ActorID)
				}
			}
			if it.Post != nil {
				if _, ok := posts[it.Post.ID]; !ok {
					posts[it.Post.ID] = struct{}{}
					l.postIDs = append(l.postIDs, it.Post.ID)
				}
			}
			if it.Suggestion != nil {
				if _, ok := matchUsers[it.Suggestion.UserID]; !ok {
					matchUsers[it.Suggestion.UserID] = struct{}{}
					l.matchIDs = append(l.matchIDs, it.Suggestion.UserID)
				}
			}
		}
	}
	return l
}

type enrichment struct {
	profiles map[string]domain.ActorProfile
	media    map[string][]domain.MediaAsset
	stats    map[string]domain.EngagementStats
	compat   map[string]domain.MatchScore
}

// Hydrate returns one HydratedEntry per input entry, in the same order.
func (h *Hydrator) Hydrate(ctx context.Context, viewerID string, entries []domain.Entry) []domain.HydratedEntry {
	ctx, span := tracing.StartSpan(ctx, "feed.hydrate")
	defer span.End()

	l := collect(entries)
	var en enrichment
	if l.hasLeaves {
		en = h.fetch(ctx, viewerID, l)
	}

	out := make([]domain.HydratedEntry, 0, len(entries))
	for _, e := range entries {
		if e.Grid != nil {
			g := &domain.HydratedGrid{Presentation: e.Grid.Presentation, Items: make([]domain.HydratedItem, 0, len(e.Grid.Items))}
			for _, it := range e.Grid.Items {
				g.Items = append(g.Items, en.merge(it))
			}
			out = append(out, domain.HydratedEntry{Type: domain.ItemGrid, Grid: g})
			continue
		}
		if e.Item == nil {
			continue
		}
		hi := en.merge(*e.Item)
		out = append(out, domain.HydratedEntry{Type: e.Item.Type, Item: &hi})
	}
	return out
}

// fetch runs the enrichment lookups in parallel. Goroutines never return an
// error so one failure cannot cancel the others.
func (h *Hydrator) fetch(ctx context.Context, viewerID string, l lookups) enrichment {
	var en enrichment
	var g errgroup.Group

	if len(l.actorIDs) > 0 {
		g.Go(func() error {
			fctx, cancel := h.fetchCtx(ctx)
			defer cancel()
			profiles, err := h.store.ActorProfiles(fctx, l.actorIDs)
			if err != nil {
				h.degraded("profiles", err)
				return nil
			}
			for id, p := range profiles {
				if p.AvatarURL == "" && p.AvatarKey != "" {
					p.AvatarURL = h.sign(fctx, p.AvatarKey)
					profiles[id] = p
				}
			}
			en.profiles = profiles
			return nil
		})
	}

	if len(l.postIDs) > 0 {
		g.Go(func() error {
			fctx, cancel := h.fetchCtx(ctx)
			defer cancel()
			media, err := h.store.PostMedia(fctx, l.postIDs)
			if err != nil {
				h.degraded("media", err)
				return nil
			}
			for pid, assets := range media {
				for i := range assets {
					if assets[i].URL == "" && assets[i].StorageKey != "" {
						assets[i].URL = h.sign(fctx, assets[i].StorageKey)
					}
				}
				media[pid] = assets
			}
			en.media = media
			return nil
		})

		g.Go(func() error {
			fctx, cancel := h.fetchCtx(ctx)
			defer cancel()
			stats, err := h.store.PostStats(fctx, l.postIDs)
			if err != nil {
				h.degraded("stats", err)
				return nil
			}
			en.stats = stats
			return nil
		})
	}

	if len(l.matchIDs) > 0 && h.matches != nil {
		g.Go(func() error {
			fctx, cancel := h.fetchCtx(ctx)
			defer cancel()
			compat, err := h.breaker.Execute(func() (map[string]domain.MatchScore, error) {
				return h.matches.MatchScores(fctx, viewerID, l.matchIDs)
			})
			if err != nil {
				h.degraded("compatibility", err)
				return nil
			}
			en.compat = compat
			return nil
		})
	}

	_ = g.Wait()
	return en
}

func (h *Hydrator) fetchCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.opts.FetchTimeout > 0 {
		return context.WithTimeout(ctx, h.opts.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *Hydrator) sign(ctx context.Context, key string) string {
	if h.signer == nil {
		return ""
	}
	u, err := h.signer.MediaURL(ctx, key)
	if err != nil {
		h.log.Debug().Err(err).Str("key", key).Msg("media url sign failed")
		return ""
	}
	return u
}

func (h *Hydrator) degraded(kind string, err error) {
	metrics.RecordHydrationFailure(kind)
	h.log.Warn().Err(err).Str("kind", kind).Msg("enrichment degraded")
}

func (en enrichment) merge(it domain.FeedItem) domain.HydratedItem {
	hi := domain.HydratedItem{FeedItem: it}
	if p, ok := en.profiles[it.ActorID]; ok {
		hi.Actor = &p
	}
	if it.Post != nil {
		if m := en.media[it.Post.ID]; len(m) > 0 {
			hi.Media = m
		}
		if s, ok := en.stats[it.Post.ID]; ok {
			hi.Stats = &s
		}
	}
	if it.Suggestion != nil {
		if c, ok := en.compat[it.Suggestion.UserID]; ok {
			hi.Compatibility = &c
		}
	}
	return hi
}
