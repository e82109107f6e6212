package rabbitmq

import "time"

const (
	EnvelopeVersion = 1
	Producer        = "feed-ranker"

	DefaultExchange = "feed.events"

	RKPresortRequested = "feed.presort.requested"
	RKPostCreated      = "post.created"
)

// Envelope is the canonical event envelope shared across services.
// message_id is optional for older producers.
type Envelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

type PostCreatedPayload struct {
	PostID   string `json:"post_id"`
	AuthorID string `json:"author_id"`
}
