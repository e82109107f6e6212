package feed

import (
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
)

// demoteSeen moves items the viewer saw within window behind the unseen
// ones, keeping relative order in both groups. A grid counts as seen only
// when all of its children were seen.
func demoteSeen(items []domain.PresortedFeedItem, lastSeen map[string]time.Time, now time.Time, window time.Duration) ([]domain.PresortedFeedItem, int) {
	if len(lastSeen) == 0 {
		return items, 0
	}
	unseen := make([]domain.PresortedFeedItem, 0, len(items))
	var seen []domain.PresortedFeedItem
	for _, it := range items {
		if wasSeen(it.Keys(), lastSeen, now, window) {
			seen = append(seen, it)
			continue
		}
		unseen = append(unseen, it)
	}
	return append(unseen, seen...), len(seen)
}

func wasSeen(keys []string, lastSeen map[string]time.Time, now time.Time, window time.Duration) bool {
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		at, ok := lastSeen[k]
		if !ok || now.Sub(at) >= window {
			return false
		}
	}
	return true
}

func presortedKeys(items []domain.PresortedFeedItem) []string {
	var keys []string
	for _, it := range items {
		keys = append(keys, it.Keys()...)
	}
	return keys
}

func entryKeys(entries []domain.Entry) []string {
	var keys []string
	for _, e := range entries {
		for _, it := range e.Leaves() {
			if k := it.Key(); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}
