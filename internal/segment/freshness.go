package segment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/goccy/go-json"
)

const PresortJobName = "feed_presort"

func UserScope(userID string) string { return "user:" + userID }

type hashInput struct {
	AlgorithmVersion string    `json:"algorithmVersion"`
	Constants        any       `json:"constants"`
	LatestMatchScore time.Time `json:"latestMatchScore"`
	LatestLike       time.Time `json:"latestLike"`
	LatestPost       time.Time `json:"latestPost"`
}

// InputHash digests everything that can change a user's presort output.
// constants must encode deterministically (structs, or maps which encode
// with sorted keys).
func InputHash(algorithmVersion string, constants any, sig domain.SignalTimestamps) (string, error) {
	b, err := json.Marshal(hashInput{
		AlgorithmVersion: algorithmVersion,
		Constants:        constants,
		LatestMatchScore: sig.LatestMatchScore.UTC(),
		LatestLike:       sig.LatestLike.UTC(),
		LatestPost:       sig.LatestPost.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode hash input: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Freshness decides whether a presort run would change anything.
type Freshness struct {
	repo    domain.FreshnessRepository
	signals domain.SignalStore
	clock   domain.Clock
}

func NewFreshness(repo domain.FreshnessRepository, signals domain.SignalStore, clock domain.Clock) *Freshness {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Freshness{repo: repo, signals: signals, clock: clock}
}

// Check computes the current input hash and reports whether it equals the
// stored one. The check and the later Record are not atomic; a concurrent
// duplicate run only repeats work.
func (f *Freshness) Check(ctx context.Context, jobName, scope, userID, algorithmVersion string, constants any) (string, bool, error) {
	sig, err := f.signals.LatestSignals(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("latest signals: %w", err)
	}
	hash, err := InputHash(algorithmVersion, constants, sig)
	if err != nil {
		return "", false, err
	}

	rec, err := f.repo.GetFreshness(ctx, jobName, scope)
	if errors.Is(err, domain.ErrCacheMiss) {
		return hash, false, nil
	}
	if err != nil {
		return hash, false, fmt.Errorf("get freshness: %w", err)
	}
	return hash, rec.InputHash == hash, nil
}

func (f *Freshness) Record(ctx context.Context, jobName, scope, hash string) error {
	return f.repo.UpsertFreshness(ctx, domain.FreshnessRecord{
		JobName:    jobName,
		Scope:      scope,
		InputHash:  hash,
		ComputedAt: f.clock.Now(),
	})
}
