package feed

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const segmentCursorPrefix = "seg."

// Cursor is a decoded pagination token. A segment cursor points at a
// presorted segment; PostID is the oldest post served before it and is used
// for a live continuation when that segment is gone.
type Cursor struct {
	SegmentIndex int
	PostID       string
	Segment      bool
}

// DecodeCursor accepts a post id or "seg.<index>.<postId>". Anything else is
// reported as absent.
func DecodeCursor(raw string) (Cursor, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Cursor{}, false
	}

	if rest, ok := strings.CutPrefix(raw, segmentCursorPrefix); ok {
		idxPart, postID, _ := strings.Cut(rest, ".")
		idx, err := strconv.Atoi(idxPart)
		if err != nil || idx < 1 {
			return Cursor{}, false
		}
		if postID != "" && !validPostID(postID) {
			return Cursor{}, false
		}
		return Cursor{SegmentIndex: idx, PostID: postID, Segment: true}, true
	}

	if !validPostID(raw) {
		return Cursor{}, false
	}
	return Cursor{PostID: raw}, true
}

func validPostID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// SegmentCursor encodes the token for segment index.
func SegmentCursor(index int, postID string) string {
	return fmt.Sprintf("%s%d.%s", segmentCursorPrefix, index, postID)
}
