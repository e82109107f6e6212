package ranking

import (
	"context"
	"math"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/rs/zerolog"
)

// Mode selects whether the seen penalty applies.
type Mode int

const (
	// ModePresort scores without the seen penalty; seen state is applied at
	// request time instead.
	ModePresort Mode = iota
	ModeRequest
)

func (m Mode) String() string {
	if m == ModeRequest {
		return "request"
	}
	return "presort"
}

// Signals are the inputs fetched once per scoring call.
type Signals struct {
	Now         time.Time
	MatchScores map[string]domain.MatchScore
	LastSeen    map[string]time.Time
}

type Breakdown struct {
	Recency     float64 `json:"recency"`
	Affinity    float64 `json:"affinity"`
	Quality     float64 `json:"quality"`
	SeenPenalty float64 `json:"seenPenalty"`
}

type Scored struct {
	Candidate domain.Candidate
	Score     float64
	Breakdown Breakdown
}

// Pools are scored candidates per kind, in input order.
type Pools struct {
	Posts       []Scored
	Suggestions []Scored
	Questions   []Scored
}

func (p Pools) Len() int { return len(p.Posts) + len(p.Suggestions) + len(p.Questions) }

type Scorer struct {
	cfg     Config
	matches domain.MatchScoreProvider
	seen    domain.SeenStore
	clock   domain.Clock
	log     zerolog.Logger
}

func NewScorer(cfg Config, matches domain.MatchScoreProvider, seen domain.SeenStore, clock domain.Clock, log zerolog.Logger) *Scorer {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Scorer{
		cfg:     cfg,
		matches: matches,
		seen:    seen,
		clock:   clock,
		log:     log.With().Str("component", "scorer").Logger(),
	}
}

// Gather fetches match scores and, in request mode, seen state with one
// batched call each. Lookup failures degrade to empty maps.
func (s *Scorer) Gather(ctx context.Context, viewerID string, set domain.CandidateSet, mode Mode) Signals {
	sig := Signals{Now: s.clock.Now()}

	if s.matches != nil {
		ids := make([]string, 0, len(set.Suggestions))
		for _, sg := range set.Suggestions {
			if sg.Source() != domain.SourceMatch {
				ids = append(ids, sg.UserID)
			}
		}
		if len(ids) > 0 {
			m, err := s.matches.MatchScores(ctx, viewerID, ids)
			if err != nil {
				s.log.Warn().Err(err).Str("viewer_id", viewerID).Msg("match score lookup failed")
			}
			sig.MatchScores = m
		}
	}

	if mode == ModeRequest && s.seen != nil && set.Len() > 0 {
		keys := make([]string, 0, set.Len())
		for _, p := range set.Posts {
			keys = append(keys, p.Key())
		}
		for _, sg := range set.Suggestions {
			keys = append(keys, sg.Key())
		}
		for _, q := range set.Questions {
			keys = append(keys, q.Key())
		}
		seen, err := s.seen.LastSeen(ctx, viewerID, keys)
		if err != nil {
			s.log.Warn().Err(err).Str("viewer_id", viewerID).Msg("seen lookup failed")
		}
		sig.LastSeen = seen
	}

	return sig
}

// ScoreSet is Gather followed by the pure scoring pass.
func (s *Scorer) ScoreSet(ctx context.Context, viewerID string, set domain.CandidateSet, mode Mode) Pools {
	return Score(s.cfg, set, s.Gather(ctx, viewerID, set, mode), mode)
}

// Score annotates every candidate with a score in [0,1]. It has no side
// effects; the same inputs always give the same output.
func Score(cfg Config, set domain.CandidateSet, sig Signals, mode Mode) Pools {
	out := Pools{
		Posts:       make([]Scored, 0, len(set.Posts)),
		Suggestions: make([]Scored, 0, len(set.Suggestions)),
		Questions:   make([]Scored, 0, len(set.Questions)),
	}
	for _, p := range set.Posts {
		b := Breakdown{Recency: recency(sig.Now, p.CreatedAt)}
		out.Posts = append(out.Posts, finish(cfg, p, b, sig, mode))
	}
	for _, sg := range set.Suggestions {
		b := Breakdown{Affinity: affinity(sg, sig.MatchScores)}
		out.Suggestions = append(out.Suggestions, finish(cfg, sg, b, sig, mode))
	}
	for _, q := range set.Questions {
		b := Breakdown{Recency: recency(sig.Now, q.CreatedAt)}
		out.Questions = append(out.Questions, finish(cfg, q, b, sig, mode))
	}
	return out
}

func finish(cfg Config, c domain.Candidate, b Breakdown, sig Signals, mode Mode) Scored {
	// quality is reserved and stays 0
	b.Quality = 0
	if mode == ModeRequest {
		b.SeenPenalty = seenPenalty(sig.Now, sig.LastSeen[c.Key()], cfg.SeenWindow)
	}
	w := cfg.Weights
	score := b.Recency*w.Recency + b.Affinity*w.Affinity + b.Quality*w.Quality - b.SeenPenalty*w.SeenPenalty
	return Scored{Candidate: c, Score: clamp01(score), Breakdown: b}
}

// recency is 1/ln(2+h); at h=0 it is 1/ln 2 and gets clamped to 1.
func recency(now, created time.Time) float64 {
	if created.IsZero() {
		return 0
	}
	hours := now.Sub(created).Hours()
	if hours < 0 {
		hours = 0
	}
	return clamp01(1 / math.Log(2+hours))
}

func affinity(sg *domain.SuggestionCandidate, scores map[string]domain.MatchScore) float64 {
	if sg.Source() == domain.SourceMatch {
		return 1
	}
	ms, ok := scores[sg.UserID]
	if !ok || ms.Status != domain.MatchReady {
		return 0
	}
	return clamp01(ms.Score)
}

func seenPenalty(now, seenAt time.Time, window time.Duration) float64 {
	if seenAt.IsZero() {
		return 0
	}
	if now.Sub(seenAt) < window {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
