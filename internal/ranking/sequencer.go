package ranking

import (
	"sort"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/rs/zerolog"
)

type Input struct {
	ViewerID      string
	Pools         Pools
	Relationships domain.Relationships
	// Take is the requested count; 0 means MaxItemsPerResponse.
	Take int
	// Seed, when set, shuffles equal-score suggestions reproducibly.
	Seed *uint64
}

type Diagnostics struct {
	Target           int                     `json:"target"`
	Emitted          int                     `json:"emitted"`
	TieredLead       int                     `json:"tieredLead"`
	SlotMisses       map[domain.SlotKind]int `json:"slotMisses"`
	FallbackToAll    int                     `json:"fallbackToAll"`
	GridsEmitted     int                     `json:"gridsEmitted"`
	GridsDropped     int                     `json:"gridsDropped"`
	NoPostCandidates int                     `json:"noPostCandidates"`
	Steps            int                     `json:"steps"`
	IdleStop         bool                    `json:"idleStop"`
	RoundRobin       bool                    `json:"roundRobin"`
}

type Result struct {
	Entries     []domain.Entry
	Diagnostics Diagnostics
}

type Sequencer struct {
	cfg Config
	log zerolog.Logger
}

func NewSequencer(cfg Config, log zerolog.Logger) *Sequencer {
	if cfg.IdleCycles < 1 {
		cfg.IdleCycles = 1
	}
	if cfg.MaxPerActor < 1 {
		cfg.MaxPerActor = 1
	}
	return &Sequencer{cfg: cfg, log: log.With().Str("component", "sequencer").Logger()}
}

func (s *Sequencer) Config() Config { return s.cfg }

// run is the state of a single Sequence call.
type run struct {
	cfg  Config
	in   Input
	st   *cursorState
	out  []domain.Entry
	diag Diagnostics
	log  zerolog.Logger
}

// Sequence interleaves scored pools according to the configured slot
// schedule. Output never repeats an identity key and never gives one actor
// more than MaxPerActor items, counting grid children.
func (s *Sequencer) Sequence(in Input) Result {
	target := s.cfg.MaxItemsPerResponse
	if in.Take > 0 && (target <= 0 || in.Take < target) {
		target = in.Take
	}

	r := &run{
		cfg: s.cfg,
		in:  in,
		st:  newCursorState(in.Pools, s.cfg.MaxPerActor, in.Seed),
		log: s.log,
		diag: Diagnostics{
			Target:     target,
			SlotMisses: map[domain.SlotKind]int{},
		},
	}

	r.tieredLead(target)

	schedule := domain.ExpandSequence(s.cfg.Sequence)
	if len(schedule) == 0 {
		r.diag.RoundRobin = true
		r.roundRobin(target)
	} else {
		r.walk(schedule, target)
	}

	r.diag.Emitted = len(r.out)
	s.log.Debug().
		Str("viewer_id", in.ViewerID).
		Int("target", target).
		Int("emitted", r.diag.Emitted).
		Int("tiered_lead", r.diag.TieredLead).
		Int("grids_dropped", r.diag.GridsDropped).
		Int("fallback_to_all", r.diag.FallbackToAll).
		Bool("idle_stop", r.diag.IdleStop).
		Msg("sequence complete")

	return Result{Entries: r.out, Diagnostics: r.diag}
}

func (r *run) emit(c *Scored, p *domain.Presentation) {
	r.st.take(c)
	it := r.item(c, p)
	r.out = append(r.out, domain.Entry{Item: &it})
}

func (r *run) item(c *Scored, p *domain.Presentation) domain.FeedItem {
	tier := r.in.Relationships.TierOf(r.in.ViewerID, c.Candidate.ActorID())
	return domain.NewFeedItem(c.Candidate, c.Score, tier, p)
}

// tieredLead puts posts from the viewer and their social graph ahead of the
// schedule, closest tier first.
func (r *run) tieredLead(target int) {
	if r.cfg.MaxTieredLead <= 0 {
		return
	}
	type tiered struct {
		c    *Scored
		rank int
	}
	var lead []tiered
	for _, c := range r.st.buckets[bucketKey(domain.SlotPost, allBucket)].itemsOrNil() {
		rank := r.in.Relationships.TierOf(r.in.ViewerID, c.Candidate.ActorID()).Rank()
		if rank < domain.TierEveryone.Rank() {
			lead = append(lead, tiered{c: c, rank: rank})
		}
	}
	// bucket order is already score-descending, so a stable sort on rank keeps
	// score order inside each tier
	sort.SliceStable(lead, func(i, j int) bool { return lead[i].rank < lead[j].rank })

	for _, t := range lead {
		if len(r.out) >= target || r.diag.TieredLead >= r.cfg.MaxTieredLead {
			return
		}
		if !r.eligible(t.c) {
			continue
		}
		r.emit(t.c, nil)
		r.diag.TieredLead++
	}
}

func (b *bucket) itemsOrNil() []*Scored {
	if b == nil {
		return nil
	}
	return b.items
}

func (r *run) eligible(c *Scored) bool {
	if _, used := r.st.used[c.Candidate.Key()]; used {
		return false
	}
	a := c.Candidate.ActorID()
	return a == "" || r.st.actorCount[a] < r.st.maxPerActor
}

// walk consumes the schedule cyclically until the target is met or a run of
// IdleCycles full cycles fills nothing.
func (r *run) walk(schedule []domain.FeedSlot, target int) {
	idleLimit := len(schedule) * r.cfg.IdleCycles
	idle := 0
	for i := 0; len(r.out) < target; i++ {
		if idle >= idleLimit {
			r.diag.IdleStop = true
			return
		}
		slot := schedule[i%len(schedule)]
		r.diag.Steps++
		if r.fill(slot) {
			idle = 0
			continue
		}
		r.diag.SlotMisses[slot.Kind]++
		idle++
	}
}

func (r *run) fill(slot domain.FeedSlot) bool {
	switch slot.Kind {
	case domain.SlotPost:
		return r.fillSingle(slot, domain.SlotPost, string(slot.MediaType))
	case domain.SlotSuggestion:
		return r.fillSingle(slot, domain.SlotSuggestion, string(slot.Source))
	case domain.SlotQuestion:
		return r.fillSingle(slot, domain.SlotQuestion, "")
	case domain.SlotGrid:
		return r.fillGrid(slot)
	default:
		return false
	}
}

func (r *run) fillSingle(slot domain.FeedSlot, kind domain.SlotKind, filter string) bool {
	if kind == domain.SlotPost && r.st.bucketLen(bucketKey(domain.SlotPost, allBucket)) == 0 {
		if filter != "" || (slot.Presentation != nil && slot.Presentation.Mode == domain.PresentMosaic) {
			r.diag.NoPostCandidates++
			r.log.Debug().
				Str("viewer_id", r.in.ViewerID).
				Str("media_type", filter).
				Msg("typed post slot has no post candidates")
		}
		return false
	}

	key := bucketKey(kind, filter)
	c := r.st.pull(key, nil, false)
	if c == nil && slot.Presentation != nil && key != bucketKey(kind, allBucket) {
		c = r.st.pull(bucketKey(kind, allBucket), nil, false)
		if c != nil {
			r.diag.FallbackToAll++
		}
	}
	if c == nil {
		return false
	}
	r.emit(c, slot.Presentation)
	return true
}

// fillGrid reserves candidates per member position and commits them only if
// the grid reaches its effective minimum. A dropped grid leaves every pick
// available to later slots.
func (r *run) fillGrid(slot domain.FeedSlot) bool {
	spec := slot.Grid
	if spec == nil || spec.Size < 1 {
		return false
	}

	res := newReservation()
	items := make([]domain.FeedItem, 0, spec.Size)
	for _, m := range spec.Members() {
		filter := string(m.MediaType)
		if m.Kind == domain.SlotSuggestion {
			filter = string(m.Source)
		}
		c := r.st.pull(bucketKey(m.Kind, filter), res, spec.DistinctActors)
		if c == nil {
			continue
		}
		res.add(c)
		items = append(items, r.item(c, nil))
	}

	if len(items) < spec.EffectiveMinSize() {
		r.diag.GridsDropped++
		return false
	}
	r.st.commit(res)
	r.out = append(r.out, domain.Entry{Grid: &domain.Grid{Items: items, Presentation: slot.Presentation}})
	r.diag.GridsEmitted++
	return true
}

// roundRobin alternates posts and suggestions when no schedule is set.
func (r *run) roundRobin(target int) {
	keys := []string{bucketKey(domain.SlotPost, allBucket), bucketKey(domain.SlotSuggestion, allBucket)}
	misses := 0
	for i := 0; len(r.out) < target && misses < len(keys); i++ {
		r.diag.Steps++
		c := r.st.pull(keys[i%len(keys)], nil, false)
		if c == nil {
			misses++
			continue
		}
		misses = 0
		r.emit(c, nil)
	}
	r.diag.IdleStop = len(r.out) < target
}
