package feed

import (
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestDecodeCursor(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Cursor
		ok   bool
	}{
		{name: "empty", raw: ""},
		{name: "post_id", raw: post1, want: Cursor{PostID: post1}, ok: true},
		{name: "padded_post_id", raw: "  " + post1 + " ", want: Cursor{PostID: post1}, ok: true},
		{name: "garbage", raw: "abc"},
		{name: "segment", raw: "seg.2." + post1, want: Cursor{SegmentIndex: 2, PostID: post1, Segment: true}, ok: true},
		{name: "segment_without_post", raw: "seg.3.", want: Cursor{SegmentIndex: 3, Segment: true}, ok: true},
		{name: "segment_zero", raw: "seg.0." + post1},
		{name: "segment_negative", raw: "seg.-1." + post1},
		{name: "segment_bad_index", raw: "seg.x." + post1},
		{name: "segment_bad_post", raw: "seg.1.nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeCursor(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSegmentCursorRoundTrip(t *testing.T) {
	c, ok := DecodeCursor(SegmentCursor(4, post2))
	assert.True(t, ok)
	assert.Equal(t, Cursor{SegmentIndex: 4, PostID: post2, Segment: true}, c)
}

func TestDemoteSeen_GridNeedsAllChildrenSeen(t *testing.T) {
	grid := domain.PresortedFeedItem{
		Type: domain.ItemGrid,
		Children: []domain.PresortedFeedItem{
			{Type: domain.ItemSuggestion, Suggestion: &domain.SuggestionCandidate{UserID: "u1"}},
			{Type: domain.ItemSuggestion, Suggestion: &domain.SuggestionCandidate{UserID: "u2"}},
		},
	}
	p := presortedPost(post1, "a")
	recent := t0.Add(-time.Minute)

	out, n := demoteSeen([]domain.PresortedFeedItem{grid, p}, map[string]time.Time{"suggestion:u1": recent}, t0, time.Hour)
	assert.Equal(t, 0, n)
	assert.Equal(t, domain.ItemGrid, out[0].Type)

	out, n = demoteSeen([]domain.PresortedFeedItem{grid, p}, map[string]time.Time{"suggestion:u1": recent, "suggestion:u2": recent}, t0, time.Hour)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.ItemPost, out[0].Type)
	assert.Equal(t, domain.ItemGrid, out[1].Type)
}
