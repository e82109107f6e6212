package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Endpoint:         "http://minio:9000",
		ExternalEndpoint: "http://localhost:9000",
		Region:           "us-east-1",
		Bucket:           "media-public",
		AccessKeyID:      "minio",
		SecretAccessKey:  "minio123",
		UsePathStyle:     true,
		URLTTL:           10 * time.Minute,
	}
}

func TestMediaURL_Presigns(t *testing.T) {
	m, err := New(testOptions(), zerolog.Nop())
	require.NoError(t, err)

	raw, err := m.MediaURL(context.Background(), "posts/p1/0.jpg")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/media-public/posts/p1/0.jpg", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestPublicURL(t *testing.T) {
	m, err := New(testOptions(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/media-public/avatars/a1.jpg", m.PublicURL("avatars/a1.jpg"))

	opts := testOptions()
	opts.CDNBaseURL = "https://cdn.example.com/"
	m, err = New(opts, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/a1.jpg", m.PublicURL("/avatars/a1.jpg"))
}

func TestNew_RequiresBucket(t *testing.T) {
	opts := testOptions()
	opts.Bucket = ""
	_, err := New(opts, zerolog.Nop())
	assert.Error(t, err)
}
