package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	"github.com/rs/zerolog"
)

type Config struct {
	AlgorithmVersion string
	MinSegmentItems  int
	TTL              time.Duration
}

// Store wraps the segment and freshness repositories with version pinning,
// minimum-size checks and the item codec.
type Store struct {
	repo  domain.SegmentRepository
	fresh domain.FreshnessRepository
	cfg   Config
	clock domain.Clock
	log   zerolog.Logger
}

func NewStore(repo domain.SegmentRepository, fresh domain.FreshnessRepository, cfg Config, clock domain.Clock, log zerolog.Logger) *Store {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{
		repo:  repo,
		fresh: fresh,
		cfg:   cfg,
		clock: clock,
		log:   log.With().Str("component", "segment_store").Logger(),
	}
}

func (s *Store) AlgorithmVersion() string { return s.cfg.AlgorithmVersion }
func (s *Store) MinSegmentItems() int     { return s.cfg.MinSegmentItems }

func (s *Store) toRow(seg domain.Segment) (domain.SegmentRow, error) {
	if seg.Index == 0 && len(seg.Items) < s.cfg.MinSegmentItems {
		return domain.SegmentRow{}, fmt.Errorf("%w: %d < %d", domain.ErrSegmentTooThin, len(seg.Items), s.cfg.MinSegmentItems)
	}
	b, err := EncodeItems(seg.Items, seg.ResumeAfter)
	if err != nil {
		return domain.SegmentRow{}, err
	}
	now := s.clock.Now()
	row := domain.SegmentRow{
		UserID:           seg.UserID,
		Index:            seg.Index,
		Items:            b,
		Phase1JSON:       seg.Phase1JSON,
		AlgorithmVersion: s.cfg.AlgorithmVersion,
		ComputedAt:       seg.ComputedAt,
		ExpiresAt:        seg.ExpiresAt,
	}
	if row.ComputedAt.IsZero() {
		row.ComputedAt = now
	}
	if row.ExpiresAt.IsZero() {
		row.ExpiresAt = row.ComputedAt.Add(s.cfg.TTL)
	}
	return row, nil
}

// StoreSegment upserts one segment. Segment 0 below the minimum item count
// is rejected with ErrSegmentTooThin.
func (s *Store) StoreSegment(ctx context.Context, userID string, index int, items []domain.PresortedFeedItem, phase1 *string, ttl time.Duration) error {
	now := s.clock.Now()
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	row, err := s.toRow(domain.Segment{
		UserID:     userID,
		Index:      index,
		Items:      items,
		Phase1JSON: phase1,
		ComputedAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		return err
	}
	return s.repo.UpsertSegment(ctx, row)
}

// ReplaceSegments writes every segment of one user atomically, in index
// order. Indices not present are removed.
func (s *Store) ReplaceSegments(ctx context.Context, userID string, segs []domain.Segment) error {
	rows := make([]domain.SegmentRow, 0, len(segs))
	for i, seg := range segs {
		seg.UserID = userID
		seg.Index = i
		row, err := s.toRow(seg)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return s.repo.ReplaceSegments(ctx, userID, rows)
}

// GetSegment returns a usable segment or one of the segment miss errors. A
// version-pinned or undecodable row is purged along with the rest of the
// user's segments.
func (s *Store) GetSegment(ctx context.Context, userID string, index int) (*domain.Segment, error) {
	row, err := s.repo.GetSegment(ctx, userID, index)
	if err != nil {
		if errors.Is(err, domain.ErrSegmentNotFound) {
			metrics.RecordSegmentMiss("not_found")
		}
		return nil, err
	}

	if row.AlgorithmVersion != s.cfg.AlgorithmVersion {
		metrics.RecordSegmentMiss("version")
		s.purge(ctx, userID, "version_mismatch", row.AlgorithmVersion)
		return nil, fmt.Errorf("%w: stored %q, running %q", domain.ErrSegmentVersionMismatch, row.AlgorithmVersion, s.cfg.AlgorithmVersion)
	}

	seg := &domain.Segment{
		UserID:           row.UserID,
		Index:            row.Index,
		Phase1JSON:       row.Phase1JSON,
		AlgorithmVersion: row.AlgorithmVersion,
		ComputedAt:       row.ComputedAt,
		ExpiresAt:        row.ExpiresAt,
	}
	if seg.Expired(s.clock.Now()) {
		metrics.RecordSegmentMiss("expired")
		return nil, domain.ErrSegmentExpired
	}

	items, resumeAfter, err := DecodeItems(row.Items)
	if err != nil {
		metrics.RecordSegmentMiss("corrupt")
		s.purge(ctx, userID, "corrupt", row.AlgorithmVersion)
		return nil, err
	}
	seg.Items = items
	seg.ResumeAfter = resumeAfter

	if index == 0 && len(items) < s.cfg.MinSegmentItems {
		metrics.RecordSegmentMiss("too_thin")
		return nil, fmt.Errorf("%w: %d < %d", domain.ErrSegmentTooThin, len(items), s.cfg.MinSegmentItems)
	}
	return seg, nil
}

func (s *Store) purge(ctx context.Context, userID, reason, stored string) {
	n, err := s.repo.DeleteSegments(ctx, userID)
	var ev *zerolog.Event
	if err != nil {
		ev = s.log.Warn().Err(err)
	} else {
		ev = s.log.Info()
	}
	ev.Str("user_id", userID).
		Str("reason", reason).
		Str("stored_version", stored).
		Int64("deleted", n).
		Msg("purged segments")
}

// InvalidateAllSegmentsForUser hard-deletes the user's segments and freshness
// record so the next presort run recomputes.
func (s *Store) InvalidateAllSegmentsForUser(ctx context.Context, userID string) error {
	if _, err := s.repo.DeleteSegments(ctx, userID); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}
	if s.fresh != nil {
		if err := s.fresh.DeleteFreshness(ctx, PresortJobName, UserScope(userID)); err != nil {
			return fmt.Errorf("delete freshness: %w", err)
		}
	}
	return nil
}
