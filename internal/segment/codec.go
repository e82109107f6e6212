package segment

import (
	"fmt"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/goccy/go-json"
)

// SchemaVersion is bumped whenever PresortedFeedItem changes shape. Rows
// written under another schema decode as corrupt.
const SchemaVersion = 2

type envelope struct {
	Schema      int                        `json:"schema"`
	Items       []domain.PresortedFeedItem `json:"items"`
	ResumeAfter string                     `json:"resumeAfter,omitempty"`
}

func EncodeItems(items []domain.PresortedFeedItem, resumeAfter string) ([]byte, error) {
	if items == nil {
		items = []domain.PresortedFeedItem{}
	}
	b, err := json.Marshal(envelope{Schema: SchemaVersion, Items: items, ResumeAfter: resumeAfter})
	if err != nil {
		return nil, fmt.Errorf("encode segment items: %w", err)
	}
	return b, nil
}

// DecodeItems returns the items and the resume-after post id, which is
// empty for rows written before it was stored.
func DecodeItems(b []byte) ([]domain.PresortedFeedItem, string, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrSegmentCorrupt, err)
	}
	if env.Schema != SchemaVersion {
		return nil, "", fmt.Errorf("%w: schema %d, want %d", domain.ErrSegmentCorrupt, env.Schema, SchemaVersion)
	}
	return env.Items, env.ResumeAfter, nil
}
