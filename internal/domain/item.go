package domain

type ItemType string

const (
	ItemPost       ItemType = "post"
	ItemSuggestion ItemType = "suggestion"
	ItemQuestion   ItemType = "question"
	ItemGrid       ItemType = "grid"
)

// Tier is relationship proximity between the viewer and the item's actor.
type Tier string

const (
	TierSelf      Tier = "self"
	TierFollowing Tier = "following"
	TierFollowers Tier = "followers"
	TierEveryone  Tier = "everyone"
)

// Rank orders tiers by proximity, lower is closer.
func (t Tier) Rank() int {
	switch t {
	case TierSelf:
		return 0
	case TierFollowing:
		return 1
	case TierFollowers:
		return 2
	default:
		return 3
	}
}

type PresentationMode string

const (
	PresentSingle    PresentationMode = "single"
	PresentMosaic    PresentationMode = "mosaic"
	PresentGrid      PresentationMode = "grid"
	PresentHighlight PresentationMode = "highlight"
	PresentQuestion  PresentationMode = "question"
)

// Presentation is a rendering hint for clients.
type Presentation struct {
	Mode   PresentationMode `json:"mode" validate:"omitempty,oneof=single mosaic grid highlight question"`
	Accent string           `json:"accent,omitempty"`
}

// FeedItem is a ranked, pre-hydration item. Exactly one of Post, Suggestion
// and Question is set, matching Type.
type FeedItem struct {
	Type         ItemType      `json:"type"`
	ActorID      string        `json:"actorId"`
	Source       Source        `json:"source"`
	Tier         Tier          `json:"tier"`
	Score        float64       `json:"score"`
	Presentation *Presentation `json:"presentation,omitempty"`

	Post       *PostCandidate       `json:"post,omitempty"`
	Suggestion *SuggestionCandidate `json:"suggestion,omitempty"`
	Question   *QuestionCandidate   `json:"question,omitempty"`
}

// Key returns the identity key of the wrapped candidate.
func (it *FeedItem) Key() string {
	switch it.Type {
	case ItemPost:
		if it.Post != nil {
			return it.Post.Key()
		}
	case ItemSuggestion:
		if it.Suggestion != nil {
			return it.Suggestion.Key()
		}
	case ItemQuestion:
		if it.Question != nil {
			return it.Question.Key()
		}
	}
	return ""
}

// NewFeedItem wraps a candidate. The candidate's concrete type selects Type.
func NewFeedItem(c Candidate, score float64, tier Tier, p *Presentation) FeedItem {
	it := FeedItem{
		ActorID:      c.ActorID(),
		Source:       c.Source(),
		Tier:         tier,
		Score:        score,
		Presentation: p,
	}
	switch v := c.(type) {
	case *PostCandidate:
		it.Type = ItemPost
		it.Post = v
	case *SuggestionCandidate:
		it.Type = ItemSuggestion
		it.Suggestion = v
	case *QuestionCandidate:
		it.Type = ItemQuestion
		it.Question = v
	}
	return it
}

type Grid struct {
	Items        []FeedItem    `json:"items"`
	Presentation *Presentation `json:"presentation,omitempty"`
}

// Entry is one element of the sequenced output: either a single item or a
// grid of items. Grids do not nest.
type Entry struct {
	Item *FeedItem `json:"item,omitempty"`
	Grid *Grid     `json:"grid,omitempty"`
}

func (e Entry) IsGrid() bool { return e.Grid != nil }

// Leaves returns the non-grid items in display order.
func (e Entry) Leaves() []FeedItem {
	if e.Grid != nil {
		return e.Grid.Items
	}
	if e.Item != nil {
		return []FeedItem{*e.Item}
	}
	return nil
}

// OldestPost returns the oldest post across entries by (CreatedAt, ID), the
// keyset the candidate source pages by. Display order is not age order, so
// the last post shown is not a safe cursor.
func OldestPost(entries []Entry) *PostCandidate {
	var oldest *PostCandidate
	for _, e := range entries {
		for _, it := range e.Leaves() {
			if it.Post == nil {
				continue
			}
			if oldest == nil || it.Post.OlderThan(oldest) {
				oldest = it.Post
			}
		}
	}
	return oldest
}
