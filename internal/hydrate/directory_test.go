package hydrate

import (
	"context"
	"errors"
	"testing"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type publicBucket struct{}

func (publicBucket) PublicURL(key string) string { return "https://public.test/" + key }

func TestDirectory_ActorSummaries(t *testing.T) {
	store := new(mockStore)
	store.On("ActorProfiles", mock.Anything, []string{"a1", "a2"}).Return(map[string]domain.ActorProfile{
		"a1": {ID: "a1", Name: "Ana", AvatarKey: "avatars/a1.jpg"},
		"a2": {ID: "a2", Name: "Ben"},
	}, nil)

	got, err := NewDirectory(store, publicBucket{}).ActorSummaries(context.Background(), []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActorSummary{ID: "a1", Name: "Ana", AvatarURL: "https://public.test/avatars/a1.jpg"}, got["a1"])
	assert.Equal(t, domain.ActorSummary{ID: "a2", Name: "Ben"}, got["a2"])
}

func TestDirectory_StoreError(t *testing.T) {
	store := new(mockStore)
	store.On("ActorProfiles", mock.Anything, []string{"a1"}).Return(nil, errors.New("db down"))

	_, err := NewDirectory(store, nil).ActorSummaries(context.Background(), []string{"a1"})
	assert.Error(t, err)
}
