package domain

import "time"

type ActorProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarKey string `json:"-"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Age       int    `json:"age,omitempty"`
	City      string `json:"city,omitempty"`
}

type MediaAsset struct {
	ID         string    `json:"id"`
	PostID     string    `json:"-"`
	Kind       MediaType `json:"kind"`
	StorageKey string    `json:"-"`
	URL        string    `json:"url,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
}

type EngagementStats struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
}

// HydratedItem is a FeedItem merged with presentation data. Enrichment that
// failed to load stays nil or empty.
type HydratedItem struct {
	FeedItem
	Actor         *ActorProfile    `json:"actor,omitempty"`
	Media         []MediaAsset     `json:"media,omitempty"`
	Stats         *EngagementStats `json:"stats,omitempty"`
	Compatibility *MatchScore      `json:"compatibility,omitempty"`
}

type HydratedGrid struct {
	Items        []HydratedItem `json:"items"`
	Presentation *Presentation  `json:"presentation,omitempty"`
}

type HydratedEntry struct {
	Type ItemType      `json:"type"`
	Item *HydratedItem `json:"item,omitempty"`
	Grid *HydratedGrid `json:"grid,omitempty"`
}

// Phase1Actor / Phase1LeafItem make up the lean "lite" response shape.
type Phase1Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

type Phase1Kind string

const (
	Phase1Post     Phase1Kind = "post"
	Phase1Profile  Phase1Kind = "profile"
	Phase1Question Phase1Kind = "question"
)

type Phase1LeafItem struct {
	ID           string        `json:"id"`
	Kind         Phase1Kind    `json:"kind"`
	Actor        Phase1Actor   `json:"actor"`
	TextPreview  string        `json:"textPreview"`
	CreatedAt    *time.Time    `json:"createdAt"`
	Presentation *Presentation `json:"presentation"`
}
