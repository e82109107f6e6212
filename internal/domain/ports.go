package domain

import (
	"context"
	"time"
)

// CandidateQuery bounds one candidate fetch. AfterPostID continues a live
// feed after the given post; empty means the newest page.
type CandidateQuery struct {
	ViewerID        string
	AfterPostID     string
	PostLimit       int
	SuggestionLimit int
	QuestionLimit   int
}

type CandidateStore interface {
	FetchCandidates(ctx context.Context, q CandidateQuery) (CandidateSet, error)
}

type MatchStatus string

const (
	MatchReady            MatchStatus = "READY"
	MatchInsufficientData MatchStatus = "INSUFFICIENT_DATA"
)

type MatchScore struct {
	Score     float64     `json:"score"`
	Status    MatchStatus `json:"status"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty"`
}

// MatchScoreProvider returns precomputed compatibility summaries keyed by
// candidate user id. Missing ids have no score.
type MatchScoreProvider interface {
	MatchScores(ctx context.Context, viewerID string, userIDs []string) (map[string]MatchScore, error)
}

type Relationships struct {
	Following map[string]struct{}
	Followers map[string]struct{}
}

// TierOf classifies actor relative to viewer.
func (r Relationships) TierOf(viewerID, actorID string) Tier {
	if actorID != "" && actorID == viewerID {
		return TierSelf
	}
	if _, ok := r.Following[actorID]; ok {
		return TierFollowing
	}
	if _, ok := r.Followers[actorID]; ok {
		return TierFollowers
	}
	return TierEveryone
}

type RelationshipProvider interface {
	Relationships(ctx context.Context, viewerID string) (Relationships, error)
	// FollowerIDs lists users following userID.
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
}

// SeenStore tracks which items were shown to a viewer.
type SeenStore interface {
	// LastSeen returns the most recent impression time per key; keys never
	// shown are absent.
	LastSeen(ctx context.Context, viewerID string, keys []string) (map[string]time.Time, error)
	MarkSeen(ctx context.Context, viewerID string, keys []string, at time.Time) error
}

type SegmentRepository interface {
	UpsertSegment(ctx context.Context, row SegmentRow) error
	// ReplaceSegments writes all rows for a user in one transaction and drops
	// any stored index not in rows.
	ReplaceSegments(ctx context.Context, userID string, rows []SegmentRow) error
	GetSegment(ctx context.Context, userID string, index int) (*SegmentRow, error)
	DeleteSegments(ctx context.Context, userID string) (int64, error)
}

type FreshnessRepository interface {
	// GetFreshness returns ErrCacheMiss when no record exists.
	GetFreshness(ctx context.Context, jobName, scope string) (FreshnessRecord, error)
	UpsertFreshness(ctx context.Context, rec FreshnessRecord) error
	DeleteFreshness(ctx context.Context, jobName, scope string) error
}

type SignalStore interface {
	LatestSignals(ctx context.Context, userID string) (SignalTimestamps, error)
}

// UserLister pages user ids in ascending order.
type UserLister interface {
	ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type HydrationStore interface {
	ActorProfiles(ctx context.Context, ids []string) (map[string]ActorProfile, error)
	PostMedia(ctx context.Context, postIDs []string) (map[string][]MediaAsset, error)
	PostStats(ctx context.Context, postIDs []string) (map[string]EngagementStats, error)
}

type MediaURLSigner interface {
	MediaURL(ctx context.Context, storageKey string) (string, error)
}

// PublicURLer builds long-lived URLs for objects in a public bucket. Used for
// avatars stored in presorted segments, which outlive signed URLs.
type PublicURLer interface {
	PublicURL(storageKey string) string
}

// JobSpec describes one job execution for the job-run recorder.
type JobSpec struct {
	JobName          string
	Trigger          string
	Scope            string
	AlgorithmVersion string
	Metadata         map[string]any
}

// JobRunner runs fn and records start, finish, duration and error. fn's
// summary is stored with the run. Errors from fn are returned unchanged.
type JobRunner interface {
	RunJob(ctx context.Context, spec JobSpec, fn func(ctx context.Context) (map[string]any, error)) error
}

type PresortTask struct {
	UserID      string `json:"user_id"`
	Incremental bool   `json:"incremental"`
	Trigger     string `json:"trigger"`
}

type PresortQueue interface {
	EnqueuePresort(ctx context.Context, task PresortTask) error
}

// EnqueueGuard grants a key at most once per ttl.
type EnqueueGuard interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Clock is injected wherever time affects output.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
