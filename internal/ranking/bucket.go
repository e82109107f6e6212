package ranking

import (
	"math/rand/v2"
	"sort"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
)

const allBucket = "all"

func bucketKey(kind domain.SlotKind, filter string) string {
	if filter == "" {
		filter = allBucket
	}
	return string(kind) + ":" + filter
}

// bucket is an arena slice plus a stable offset past its committed prefix.
type bucket struct {
	items []*Scored
	next  int
}

// reservation holds tentative picks for a grid until it is committed.
type reservation struct {
	keys   map[string]struct{}
	actors map[string]int
}

func newReservation() *reservation {
	return &reservation{keys: map[string]struct{}{}, actors: map[string]int{}}
}

func (r *reservation) add(c *Scored) {
	r.keys[c.Candidate.Key()] = struct{}{}
	if a := c.Candidate.ActorID(); a != "" {
		r.actors[a]++
	}
}

// cursorState is owned by one Sequence pass.
type cursorState struct {
	buckets     map[string]*bucket
	used        map[string]struct{}
	actorCount  map[string]int
	maxPerActor int
}

func newCursorState(p Pools, maxPerActor int, seed *uint64) *cursorState {
	st := &cursorState{
		buckets:     map[string]*bucket{},
		used:        map[string]struct{}{},
		actorCount:  map[string]int{},
		maxPerActor: maxPerActor,
	}

	posts := sortByScore(p.Posts, nil)
	for _, c := range posts {
		mt := c.Candidate.(*domain.PostCandidate).MediaType
		if mt == "" {
			mt = domain.MediaText
		}
		st.push(bucketKey(domain.SlotPost, allBucket), c)
		st.push(bucketKey(domain.SlotPost, string(mt)), c)
	}

	suggestions := sortByScore(p.Suggestions, seed)
	for _, c := range suggestions {
		st.push(bucketKey(domain.SlotSuggestion, allBucket), c)
		st.push(bucketKey(domain.SlotSuggestion, string(c.Candidate.Source())), c)
	}

	for _, c := range sortByScore(p.Questions, nil) {
		st.push(bucketKey(domain.SlotQuestion, allBucket), c)
	}
	return st
}

func (st *cursorState) push(key string, c *Scored) {
	b, ok := st.buckets[key]
	if !ok {
		b = &bucket{}
		st.buckets[key] = b
	}
	b.items = append(b.items, c)
}

func (st *cursorState) bucketLen(key string) int {
	if b, ok := st.buckets[key]; ok {
		return len(b.items)
	}
	return 0
}

// pull returns the best eligible candidate in the bucket without consuming
// it. res may be nil for top-level slots.
func (st *cursorState) pull(key string, res *reservation, distinctActors bool) *Scored {
	b, ok := st.buckets[key]
	if !ok {
		return nil
	}
	for b.next < len(b.items) {
		if _, used := st.used[b.items[b.next].Candidate.Key()]; !used {
			break
		}
		b.next++
	}
	for i := b.next; i < len(b.items); i++ {
		c := b.items[i]
		k := c.Candidate.Key()
		if _, used := st.used[k]; used {
			continue
		}
		actor := c.Candidate.ActorID()
		pending := 0
		if res != nil {
			if _, taken := res.keys[k]; taken {
				continue
			}
			pending = res.actors[actor]
			if distinctActors && actor != "" && pending > 0 {
				continue
			}
		}
		if actor != "" && st.actorCount[actor]+pending >= st.maxPerActor {
			continue
		}
		return c
	}
	return nil
}

func (st *cursorState) take(c *Scored) {
	st.used[c.Candidate.Key()] = struct{}{}
	if a := c.Candidate.ActorID(); a != "" {
		st.actorCount[a]++
	}
}

func (st *cursorState) commit(res *reservation) {
	for k := range res.keys {
		st.used[k] = struct{}{}
	}
	for a, n := range res.actors {
		st.actorCount[a] += n
	}
}

// sortByScore orders by score descending. With a seed, equal scores are
// ordered by a seeded draw so shuffles are reproducible; without one, input
// order breaks ties.
func sortByScore(in []Scored, seed *uint64) []*Scored {
	out := make([]*Scored, len(in))
	for i := range in {
		out[i] = &in[i]
	}
	if seed == nil {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		return out
	}

	r := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	draws := make(map[*Scored]uint64, len(out))
	for _, c := range out {
		draws[c] = r.Uint64()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return draws[out[i]] < draws[out[j]]
	})
	return out
}

// SeedFromString derives a deterministic seed, e.g. from a request id.
func SeedFromString(s string) uint64 {
	var seed uint64
	for _, c := range s {
		seed = seed*31 + uint64(c)
	}
	return seed
}
