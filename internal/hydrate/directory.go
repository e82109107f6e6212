package hydrate

import (
	"context"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
)

// Directory serves the actor cards denormalized into presorted segments.
type Directory struct {
	store domain.HydrationStore
	urls  domain.PublicURLer
}

func NewDirectory(store domain.HydrationStore, urls domain.PublicURLer) *Directory {
	return &Directory{store: store, urls: urls}
}

func (d *Directory) ActorSummaries(ctx context.Context, ids []string) (map[string]domain.ActorSummary, error) {
	profiles, err := d.store.ActorProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ActorSummary, len(profiles))
	for id, p := range profiles {
		s := domain.ActorSummary{ID: id, Name: p.Name}
		if p.AvatarKey != "" && d.urls != nil {
			s.AvatarURL = d.urls.PublicURL(p.AvatarKey)
		}
		out[id] = s
	}
	return out, nil
}
