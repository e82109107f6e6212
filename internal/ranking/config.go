package ranking

import (
	"fmt"
	"os"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/validate"
	"github.com/goccy/go-json"
)

type Weights struct {
	Recency     float64 `json:"recency" validate:"gte=0"`
	Affinity    float64 `json:"affinity" validate:"gte=0"`
	Quality     float64 `json:"quality" validate:"gte=0"`
	SeenPenalty float64 `json:"seenPenalty" validate:"gte=0"`
}

// Config is the explicit ranking configuration handed to the scorer and
// sequencer. A zero Sequence selects the round-robin fallback.
type Config struct {
	Weights             Weights           `json:"weights"`
	SeenWindow          time.Duration     `json:"seenWindow" validate:"gt=0"`
	MaxPerActor         int               `json:"maxPerActor" validate:"gte=1"`
	MaxItemsPerResponse int               `json:"maxItemsPerResponse" validate:"gte=1"`
	MaxTieredLead       int               `json:"maxTieredLead" validate:"gte=0"`
	IdleCycles          int               `json:"idleCycles" validate:"gte=1"`
	Sequence            []domain.FeedSlot `json:"sequence" validate:"dive"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Recency:     0.6,
			Affinity:    0.4,
			Quality:     0,
			SeenPenalty: 0.5,
		},
		SeenWindow:          24 * time.Hour,
		MaxPerActor:         3,
		MaxItemsPerResponse: 50,
		MaxTieredLead:       5,
		IdleCycles:          1,
		Sequence:            DefaultSequence(),
	}
}

// DefaultSequence is the production slot layout.
func DefaultSequence() []domain.FeedSlot {
	return []domain.FeedSlot{
		{Kind: domain.SlotPost, Count: 2},
		{Kind: domain.SlotPost, MediaType: domain.MediaVideo, Presentation: &domain.Presentation{Mode: domain.PresentHighlight}},
		{Kind: domain.SlotSuggestion, Source: domain.SourceMatch, Presentation: &domain.Presentation{Mode: domain.PresentSingle, Accent: "match"}},
		{Kind: domain.SlotPost, Count: 2},
		{
			Kind:         domain.SlotGrid,
			Presentation: &domain.Presentation{Mode: domain.PresentMosaic},
			Grid: &domain.GridSpec{
				Size:      4,
				MinSize:   2,
				Strict:    domain.BoolPtr(false),
				Of:        domain.SlotPost,
				MediaType: domain.MediaImage,
			},
		},
		{Kind: domain.SlotQuestion, Presentation: &domain.Presentation{Mode: domain.PresentQuestion}},
		{
			Kind:         domain.SlotGrid,
			Presentation: &domain.Presentation{Mode: domain.PresentGrid},
			Grid: &domain.GridSpec{
				Size:           3,
				MinSize:        2,
				Strict:         domain.BoolPtr(false),
				Of:             domain.SlotSuggestion,
				DistinctActors: true,
			},
		},
	}
}

func (c Config) Validate() error {
	return validate.Struct(c)
}

// LoadSequenceFile reads a JSON array of slots.
func LoadSequenceFile(path string) ([]domain.FeedSlot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence file: %w", err)
	}
	var seq []domain.FeedSlot
	if err := json.Unmarshal(b, &seq); err != nil {
		return nil, fmt.Errorf("decode sequence file %s: %w", path, err)
	}
	for i := range seq {
		if err := validate.Struct(seq[i]); err != nil {
			return nil, fmt.Errorf("sequence slot %d: %w", i, err)
		}
	}
	return seq, nil
}
