package domain

import "time"

// PresortedFeedItem is the persisted form of an Entry. Actor name and avatar
// are denormalized so segment reads need no joins. Grid entries have
// Type == ItemGrid and carry their items in Children.
type PresortedFeedItem struct {
	Type           ItemType      `json:"type"`
	ActorID        string        `json:"actorId,omitempty"`
	ActorName      string        `json:"actorName,omitempty"`
	ActorAvatarURL string        `json:"actorAvatarUrl,omitempty"`
	Source         Source        `json:"source,omitempty"`
	Tier           Tier          `json:"tier,omitempty"`
	Score          float64       `json:"score"`
	Presentation   *Presentation `json:"presentation,omitempty"`

	Post       *PostCandidate       `json:"post,omitempty"`
	Suggestion *SuggestionCandidate `json:"suggestion,omitempty"`
	Question   *QuestionCandidate   `json:"question,omitempty"`

	Children []PresortedFeedItem `json:"children,omitempty"`
}

// ActorSummary is the denormalized actor card stored with presorted items.
type ActorSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func presortLeaf(it FeedItem, actors map[string]ActorSummary) PresortedFeedItem {
	a := actors[it.ActorID]
	return PresortedFeedItem{
		Type:           it.Type,
		ActorID:        it.ActorID,
		ActorName:      a.Name,
		ActorAvatarURL: a.AvatarURL,
		Source:         it.Source,
		Tier:           it.Tier,
		Score:          it.Score,
		Presentation:   it.Presentation,
		Post:           it.Post,
		Suggestion:     it.Suggestion,
		Question:       it.Question,
	}
}

// NewPresortedItem converts an entry, attaching actor summaries.
func NewPresortedItem(e Entry, actors map[string]ActorSummary) PresortedFeedItem {
	if e.Grid != nil {
		children := make([]PresortedFeedItem, 0, len(e.Grid.Items))
		for _, it := range e.Grid.Items {
			children = append(children, presortLeaf(it, actors))
		}
		return PresortedFeedItem{
			Type:         ItemGrid,
			Presentation: e.Grid.Presentation,
			Children:     children,
		}
	}
	if e.Item == nil {
		return PresortedFeedItem{}
	}
	return presortLeaf(*e.Item, actors)
}

func (p PresortedFeedItem) leaf() FeedItem {
	return FeedItem{
		Type:         p.Type,
		ActorID:      p.ActorID,
		Source:       p.Source,
		Tier:         p.Tier,
		Score:        p.Score,
		Presentation: p.Presentation,
		Post:         p.Post,
		Suggestion:   p.Suggestion,
		Question:     p.Question,
	}
}

// Entry converts back to the in-memory ranked form.
func (p PresortedFeedItem) Entry() Entry {
	if p.Type == ItemGrid {
		items := make([]FeedItem, 0, len(p.Children))
		for _, c := range p.Children {
			items = append(items, c.leaf())
		}
		return Entry{Grid: &Grid{Items: items, Presentation: p.Presentation}}
	}
	it := p.leaf()
	return Entry{Item: &it}
}

// Keys returns the identity keys of the item, or of each grid child.
func (p PresortedFeedItem) Keys() []string {
	if p.Type == ItemGrid {
		keys := make([]string, 0, len(p.Children))
		for _, c := range p.Children {
			keys = append(keys, c.Keys()...)
		}
		return keys
	}
	it := p.leaf()
	if k := it.Key(); k != "" {
		return []string{k}
	}
	return nil
}

// Segment is a fixed-size slice of a user's presorted feed.
type Segment struct {
	UserID           string
	Index            int
	Items            []PresortedFeedItem
	Phase1JSON       *string
	AlgorithmVersion string
	ComputedAt       time.Time
	ExpiresAt        time.Time
	// ResumeAfter is the oldest post id in this and every earlier segment;
	// a live continuation pages below it.
	ResumeAfter string
}

func (s *Segment) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SegmentRow is the raw persisted form of a segment; Items is the encoded
// item envelope.
type SegmentRow struct {
	UserID           string
	Index            int
	Items            []byte
	Phase1JSON       *string
	AlgorithmVersion string
	ComputedAt       time.Time
	ExpiresAt        time.Time
}

// FreshnessRecord is keyed by (JobName, Scope).
type FreshnessRecord struct {
	JobName    string
	Scope      string
	InputHash  string
	ComputedAt time.Time
}

// SignalTimestamps are the latest upstream changes that affect a user's
// ranking output. Zero values mean no such signal exists.
type SignalTimestamps struct {
	LatestMatchScore time.Time
	LatestLike       time.Time
	LatestPost       time.Time
}
