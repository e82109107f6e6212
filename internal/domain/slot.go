package domain

type SlotKind string

const (
	SlotPost       SlotKind = "post"
	SlotSuggestion SlotKind = "suggestion"
	SlotQuestion   SlotKind = "question"
	SlotGrid       SlotKind = "grid"
)

// FeedSlot is one repeating unit of a feed sequence.
//
// post slots filter on MediaType (empty means any), suggestion slots filter on
// Source (empty means any). Grid slots carry a GridSpec.
type FeedSlot struct {
	Kind         SlotKind      `json:"kind" validate:"required,oneof=post suggestion question grid"`
	MediaType    MediaType     `json:"mediaType,omitempty" validate:"omitempty,oneof=text image video mixed"`
	Source       Source        `json:"source,omitempty" validate:"omitempty,oneof=match suggested"`
	Count        int           `json:"count,omitempty" validate:"gte=0"`
	Presentation *Presentation `json:"presentation,omitempty"`
	Grid         *GridSpec     `json:"grid,omitempty" validate:"required_if=Kind grid"`
}

// GridMember is one position rule in a heterogeneous grid mix.
type GridMember struct {
	Kind      SlotKind  `json:"kind" validate:"required,oneof=post suggestion question"`
	MediaType MediaType `json:"mediaType,omitempty" validate:"omitempty,oneof=text image video mixed"`
	Source    Source    `json:"source,omitempty" validate:"omitempty,oneof=match suggested"`
}

// GridSpec describes a composite slot. Either Of (homogeneous, with optional
// MediaType/Source filters) or Mix (round-robin over members) is used; Mix
// wins when both are set.
type GridSpec struct {
	Size           int          `json:"size" validate:"gte=1"`
	MinSize        int          `json:"minSize,omitempty" validate:"gte=0"`
	Strict         *bool        `json:"strict,omitempty"`
	Of             SlotKind     `json:"of,omitempty" validate:"omitempty,oneof=post suggestion question"`
	MediaType      MediaType    `json:"mediaType,omitempty" validate:"omitempty,oneof=text image video mixed"`
	Source         Source       `json:"source,omitempty" validate:"omitempty,oneof=match suggested"`
	Mix            []GridMember `json:"mix,omitempty" validate:"dive"`
	DistinctActors bool         `json:"distinctActors,omitempty"`
}

// IsStrict defaults to true when unset.
func (g *GridSpec) IsStrict() bool {
	return g.Strict == nil || *g.Strict
}

// EffectiveMinSize is the fill count a grid must reach to be emitted.
func (g *GridSpec) EffectiveMinSize() int {
	if g.IsStrict() {
		return g.Size
	}
	m := g.MinSize
	if m < 1 {
		m = 1
	}
	if m > g.Size {
		m = g.Size
	}
	return m
}

// Members returns the per-position rules for a grid of Size positions.
func (g *GridSpec) Members() []GridMember {
	out := make([]GridMember, g.Size)
	for i := range out {
		if len(g.Mix) > 0 {
			out[i] = g.Mix[i%len(g.Mix)]
			continue
		}
		out[i] = GridMember{Kind: g.Of, MediaType: g.MediaType, Source: g.Source}
	}
	return out
}

// ExpandSequence repeats slots with Count > 1 into a flat schedule.
func ExpandSequence(seq []FeedSlot) []FeedSlot {
	out := make([]FeedSlot, 0, len(seq))
	for _, s := range seq {
		n := s.Count
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, s)
		}
	}
	return out
}

func BoolPtr(b bool) *bool { return &b }
