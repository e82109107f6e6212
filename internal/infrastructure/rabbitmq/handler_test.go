package rabbitmq

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/presort"
	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	authorID   = "7b0e4c8e-3f43-4c36-9a55-2b0c1c4f4a01"
	followerID = "7b0e4c8e-3f43-4c36-9a55-2b0c1c4f4a02"
)

type mockPresorter struct{ mock.Mock }

func (m *mockPresorter) Run(ctx context.Context, p presort.Params) (presort.Result, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(presort.Result), args.Error(1)
}

type mockSegments struct{ mock.Mock }

func (m *mockSegments) InvalidateAllSegmentsForUser(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockFollowers struct{ mock.Mock }

func (m *mockFollowers) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

type recordingGuard struct{ released []string }

func (g *recordingGuard) Release(_ context.Context, key string) error {
	g.released = append(g.released, key)
	return nil
}

type recordingTrigger struct{ tasks []domain.PresortTask }

func (r *recordingTrigger) Request(task domain.PresortTask) bool {
	r.tasks = append(r.tasks, task)
	return true
}

func delivery(t *testing.T, rk string, payload any) amqp.Delivery {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(Envelope[json.RawMessage]{
		Version:    EnvelopeVersion,
		Producer:   "test",
		MessageID:  "m-1",
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	})
	require.NoError(t, err)
	return amqp.Delivery{RoutingKey: rk, Body: body}
}

func loggerStub() zerolog.Logger { return zerolog.New(io.Discard) }

func TestHandle_PresortRequested(t *testing.T) {
	p := new(mockPresorter)
	h := NewHandler(HandlerDeps{Presort: p}, loggerStub())

	want := presort.Params{UserID: authorID, Incremental: true, Trigger: "feed_read_live"}
	p.On("Run", mock.Anything, want).Return(presort.Result{Status: presort.StatusSuccess}, nil).Once()

	err := h.Handle(context.Background(), delivery(t, RKPresortRequested, domain.PresortTask{UserID: authorID, Incremental: true, Trigger: "feed_read_live"}))
	assert.NoError(t, err)
	p.AssertExpectations(t)
}

func TestHandle_PresortFailureIsNotRedelivered(t *testing.T) {
	p := new(mockPresorter)
	h := NewHandler(HandlerDeps{Presort: p}, loggerStub())
	p.On("Run", mock.Anything, mock.Anything).Return(presort.Result{Status: presort.StatusFailed}, errors.New("db down")).Once()

	err := h.Handle(context.Background(), delivery(t, RKPresortRequested, domain.PresortTask{UserID: authorID}))
	assert.NoError(t, err)
}

func TestHandle_PresortInvalidUserDropped(t *testing.T) {
	p := new(mockPresorter)
	h := NewHandler(HandlerDeps{Presort: p}, loggerStub())

	err := h.Handle(context.Background(), delivery(t, RKPresortRequested, domain.PresortTask{UserID: "not-a-uuid"}))
	assert.NoError(t, err)
	p.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestHandle_PostCreatedInvalidatesAndEnqueues(t *testing.T) {
	segs := new(mockSegments)
	fol := new(mockFollowers)
	trig := &recordingTrigger{}
	guard := &recordingGuard{}
	h := NewHandler(HandlerDeps{Segments: segs, Followers: fol, Trigger: trig, Guard: guard}, loggerStub())

	fol.On("FollowerIDs", mock.Anything, authorID).Return([]string{followerID}, nil).Once()
	segs.On("InvalidateAllSegmentsForUser", mock.Anything, authorID).Return(nil).Once()
	segs.On("InvalidateAllSegmentsForUser", mock.Anything, followerID).Return(nil).Once()

	err := h.Handle(context.Background(), delivery(t, RKPostCreated, PostCreatedPayload{PostID: "p1", AuthorID: authorID}))
	require.NoError(t, err)

	segs.AssertExpectations(t)
	fol.AssertExpectations(t)
	require.Len(t, trig.tasks, 1)
	assert.Equal(t, domain.PresortTask{UserID: authorID, Trigger: triggerPostCreated}, trig.tasks[0])
	assert.Equal(t, []string{presort.GuardKey(authorID)}, guard.released)
}

func TestHandle_PostCreatedTransientFailure(t *testing.T) {
	segs := new(mockSegments)
	trig := &recordingTrigger{}
	h := NewHandler(HandlerDeps{Segments: segs, Trigger: trig}, loggerStub())

	segs.On("InvalidateAllSegmentsForUser", mock.Anything, authorID).Return(errors.New("db down")).Once()

	err := h.Handle(context.Background(), delivery(t, RKPostCreated, PostCreatedPayload{PostID: "p1", AuthorID: authorID}))
	assert.Error(t, err)
	assert.Empty(t, trig.tasks)
}

func TestHandle_PoisonMessages(t *testing.T) {
	h := NewHandler(HandlerDeps{}, loggerStub())
	ctx := context.Background()

	t.Run("bad json", func(t *testing.T) {
		assert.NoError(t, h.Handle(ctx, amqp.Delivery{RoutingKey: RKPostCreated, Body: []byte("{")}))
	})
	t.Run("unsupported version", func(t *testing.T) {
		body := []byte(`{"version":2,"payload":{}}`)
		assert.NoError(t, h.Handle(ctx, amqp.Delivery{RoutingKey: RKPostCreated, Body: body}))
	})
	t.Run("unknown routing key", func(t *testing.T) {
		assert.NoError(t, h.Handle(ctx, delivery(t, "event.published", map[string]string{})))
	})
}

func TestMessageID(t *testing.T) {
	d := amqp.Delivery{RoutingKey: "rk", MessageId: "amqp-id", Body: []byte("x")}
	assert.Equal(t, "env-id", messageID(" env-id ", d))
	assert.Equal(t, "amqp-id", messageID("", d))

	d.MessageId = ""
	a := messageID("", d)
	assert.Contains(t, a, "hash:")
	assert.Equal(t, a, messageID("", d))
}
