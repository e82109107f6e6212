package presort

import (
	"context"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubCandidates struct {
	mu    sync.Mutex
	sets  map[string]domain.CandidateSet
	errs  map[string]error
	calls map[string]int
}

func newStubCandidates() *stubCandidates {
	return &stubCandidates{
		sets:  map[string]domain.CandidateSet{},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (s *stubCandidates) FetchCandidates(_ context.Context, q domain.CandidateQuery) (domain.CandidateSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[q.ViewerID]++
	if err := s.errs[q.ViewerID]; err != nil {
		return domain.CandidateSet{}, err
	}
	return s.sets[q.ViewerID], nil
}

func (s *stubCandidates) callsFor(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[userID]
}

type stubUsers struct {
	ids []string
	err error
}

func (s stubUsers) ListUserIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, id := range s.ids {
		if id > afterID {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// failingLister serves ids on the first page and fails on the next.
type failingLister struct {
	ids   []string
	err   error
	calls int
}

func (l *failingLister) ListUserIDs(_ context.Context, afterID string, _ int) ([]string, error) {
	l.calls++
	if afterID == "" {
		return l.ids, nil
	}
	return nil, l.err
}

type stubSignals struct {
	mu  sync.Mutex
	sig domain.SignalTimestamps
}

func (s *stubSignals) LatestSignals(context.Context, string) (domain.SignalTimestamps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig, nil
}

func (s *stubSignals) set(sig domain.SignalTimestamps) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sig = sig
}

type stubActors struct{}

func (stubActors) ActorSummaries(_ context.Context, ids []string) (map[string]domain.ActorSummary, error) {
	out := make(map[string]domain.ActorSummary, len(ids))
	for _, id := range ids {
		out[id] = domain.ActorSummary{ID: id, Name: "name-" + id}
	}
	return out, nil
}

// memRepo implements both segment and freshness repositories.
type memRepo struct {
	mu     sync.Mutex
	rows   map[string]map[int]domain.SegmentRow
	fresh  map[string]domain.FreshnessRecord
	writes int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]map[int]domain.SegmentRow{}, fresh: map[string]domain.FreshnessRecord{}}
}

func (m *memRepo) UpsertSegment(_ context.Context, row domain.SegmentRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[row.UserID] == nil {
		m.rows[row.UserID] = map[int]domain.SegmentRow{}
	}
	m.rows[row.UserID][row.Index] = row
	m.writes++
	return nil
}

func (m *memRepo) ReplaceSegments(_ context.Context, userID string, rows []domain.SegmentRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := map[int]domain.SegmentRow{}
	for _, r := range rows {
		next[r.Index] = r
		m.writes++
	}
	m.rows[userID] = next
	return nil
}

func (m *memRepo) GetSegment(_ context.Context, userID string, index int) (*domain.SegmentRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[userID][index]
	if !ok {
		return nil, domain.ErrSegmentNotFound
	}
	return &row, nil
}

func (m *memRepo) DeleteSegments(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows[userID])
	delete(m.rows, userID)
	return int64(n), nil
}

func (m *memRepo) GetFreshness(_ context.Context, job, scope string) (domain.FreshnessRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.fresh[job+"|"+scope]
	if !ok {
		return domain.FreshnessRecord{}, domain.ErrCacheMiss
	}
	return rec, nil
}

func (m *memRepo) UpsertFreshness(_ context.Context, rec domain.FreshnessRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fresh[rec.JobName+"|"+rec.Scope] = rec
	return nil
}

func (m *memRepo) DeleteFreshness(_ context.Context, job, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fresh, job+"|"+scope)
	return nil
}

func (m *memRepo) segmentCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[userID])
}

func (m *memRepo) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type recordingRunner struct {
	mu    sync.Mutex
	specs []domain.JobSpec
	sums  []map[string]any
	errs  []error
}

func (r *recordingRunner) RunJob(ctx context.Context, spec domain.JobSpec, fn func(context.Context) (map[string]any, error)) error {
	sum, err := fn(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	r.sums = append(r.sums, sum)
	r.errs = append(r.errs, err)
	return err
}

type memQueue struct {
	mu    sync.Mutex
	tasks []domain.PresortTask
	err   error
}

func (q *memQueue) EnqueuePresort(_ context.Context, task domain.PresortTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *memQueue) published() []domain.PresortTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.PresortTask(nil), q.tasks...)
}

type memGuard struct {
	mu   sync.Mutex
	held map[string]time.Duration
	err  error
}

func (g *memGuard) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.held == nil {
		g.held = map[string]time.Duration{}
	}
	if _, ok := g.held[key]; ok {
		return false, nil
	}
	g.held[key] = ttl
	return true, nil
}
