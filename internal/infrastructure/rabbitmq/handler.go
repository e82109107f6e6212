package rabbitmq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/presort"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const triggerPostCreated = "post_created"

type Presorter interface {
	Run(ctx context.Context, p presort.Params) (presort.Result, error)
}

type SegmentInvalidator interface {
	InvalidateAllSegmentsForUser(ctx context.Context, userID string) error
}

type FollowerLister interface {
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
}

type PresortRequester interface {
	Request(task domain.PresortTask) bool
}

// GuardReleaser drops an enqueue guard before its ttl runs out.
type GuardReleaser interface {
	Release(ctx context.Context, key string) error
}

type HandlerDeps struct {
	Presort   Presorter
	Segments  SegmentInvalidator
	Followers FollowerLister
	Trigger   PresortRequester
	Guard     GuardReleaser
}

// Handler routes deliveries. It returns an error only for transient
// failures worth a redelivery; malformed messages are dropped.
type Handler struct {
	deps HandlerDeps
	log  zerolog.Logger
}

func NewHandler(deps HandlerDeps, log zerolog.Logger) *Handler {
	return &Handler{deps: deps, log: log.With().Str("component", "rabbitmq_handler").Logger()}
}

func (h *Handler) Handle(ctx context.Context, d amqp.Delivery) error {
	baseLog := h.log.With().Str("routing_key", d.RoutingKey).Logger()

	var env Envelope[json.RawMessage]
	if err := json.Unmarshal(d.Body, &env); err != nil {
		baseLog.Warn().Err(err).Msg("invalid envelope json; dropping")
		metrics.RecordMessageConsumed(d.RoutingKey, "dropped")
		return nil
	}
	if env.Version != EnvelopeVersion {
		baseLog.Warn().Int("version", env.Version).Msg("unsupported envelope version; dropping")
		metrics.RecordMessageConsumed(d.RoutingKey, "dropped")
		return nil
	}

	log := baseLog.With().
		Str("message_id", messageID(env.MessageID, d)).
		Str("trace_id", strings.TrimSpace(env.TraceID)).
		Logger()

	var err error
	switch d.RoutingKey {
	case RKPresortRequested:
		err = h.presortRequested(ctx, env.Payload, log)
	case RKPostCreated:
		err = h.postCreated(ctx, env.Payload, log)
	default:
		log.Warn().Msg("unknown routing key; ignoring")
		metrics.RecordMessageConsumed(d.RoutingKey, "ignored")
		return nil
	}
	if err != nil {
		metrics.RecordMessageConsumed(d.RoutingKey, "error")
		return err
	}
	metrics.RecordMessageConsumed(d.RoutingKey, "ok")
	return nil
}

// messageID prefers the envelope id, then the AMQP id, else a body hash.
func messageID(envID string, d amqp.Delivery) string {
	if id := strings.TrimSpace(envID); id != "" {
		return id
	}
	if id := strings.TrimSpace(d.MessageId); id != "" {
		return id
	}
	sum := sha256.Sum256(append([]byte(d.RoutingKey+"\n"), d.Body...))
	return "hash:" + hex.EncodeToString(sum[:])
}

// presortRequested runs the job inline. Job failures are recorded by the job
// runner and are not redelivered.
func (h *Handler) presortRequested(ctx context.Context, raw json.RawMessage, log zerolog.Logger) error {
	var task domain.PresortTask
	if err := json.Unmarshal(raw, &task); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return nil
	}
	if _, err := uuid.Parse(task.UserID); err != nil {
		log.Warn().Str("user_id", task.UserID).Msg("invalid user_id; dropping")
		return nil
	}

	res, err := h.deps.Presort.Run(ctx, presort.Params{
		UserID:      task.UserID,
		Incremental: task.Incremental,
		Trigger:     task.Trigger,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", task.UserID).Str("status", string(res.Status)).Msg("presort task failed")
	}
	return nil
}

// postCreated invalidates the author's and followers' segments, then queues
// a presort for the author. Followers recompute on their next read.
func (h *Handler) postCreated(ctx context.Context, raw json.RawMessage, log zerolog.Logger) error {
	var p PostCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return nil
	}
	if _, err := uuid.Parse(p.AuthorID); err != nil {
		log.Warn().Str("author_id", p.AuthorID).Msg("invalid author_id; dropping")
		return nil
	}

	users := []string{p.AuthorID}
	if h.deps.Followers != nil {
		followers, err := h.deps.Followers.FollowerIDs(ctx, p.AuthorID)
		if err != nil {
			return fmt.Errorf("list followers of %s: %w", p.AuthorID, err)
		}
		users = append(users, followers...)
	}

	for _, u := range users {
		if err := h.deps.Segments.InvalidateAllSegmentsForUser(ctx, u); err != nil {
			return fmt.Errorf("invalidate segments of %s: %w", u, err)
		}
	}
	log.Info().
		Str("post_id", p.PostID).
		Str("author_id", p.AuthorID).
		Int("invalidated", len(users)).
		Msg("segments invalidated for new post")

	if h.deps.Trigger != nil {
		// a guard taken by an earlier read would suppress this enqueue
		if h.deps.Guard != nil {
			if err := h.deps.Guard.Release(ctx, presort.GuardKey(p.AuthorID)); err != nil {
				log.Warn().Err(err).Str("author_id", p.AuthorID).Msg("release enqueue guard failed")
			}
		}
		h.deps.Trigger.Request(domain.PresortTask{UserID: p.AuthorID, Trigger: triggerPostCreated})
	}
	return nil
}
