package domain

import "time"

type CandidateKind string

const (
	KindPost       CandidateKind = "post"
	KindSuggestion CandidateKind = "suggestion"
	KindQuestion   CandidateKind = "question"
)

// Source tags where a candidate came from.
type Source string

const (
	SourcePost      Source = "post"
	SourceMatch     Source = "match"
	SourceSuggested Source = "suggested"
	SourceQuestion  Source = "question"
)

type MediaType string

const (
	MediaText  MediaType = "text"
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaMixed MediaType = "mixed"
)

// MediaTypes lists the concrete post media buckets in a stable order.
var MediaTypes = []MediaType{MediaText, MediaImage, MediaVideo, MediaMixed}

// Candidate is an unranked feed candidate. The set of variants is closed:
// PostCandidate, SuggestionCandidate and QuestionCandidate.
type Candidate interface {
	// Key is the stable identity used for dedupe and pagination.
	Key() string
	ActorID() string
	Kind() CandidateKind
	Source() Source

	sealed()
}

type PostCandidate struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text,omitempty"`
	MediaType MediaType `json:"mediaType,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p *PostCandidate) Key() string         { return PostKey(p.ID) }
func (p *PostCandidate) ActorID() string     { return p.AuthorID }
func (p *PostCandidate) Kind() CandidateKind { return KindPost }
func (p *PostCandidate) Source() Source      { return SourcePost }
func (p *PostCandidate) sealed()             {}

// OlderThan orders posts by (CreatedAt, ID), matching the store's keyset.
func (p *PostCandidate) OlderThan(o *PostCandidate) bool {
	if !p.CreatedAt.Equal(o.CreatedAt) {
		return p.CreatedAt.Before(o.CreatedAt)
	}
	return p.ID < o.ID
}

// SuggestionCandidate is a profile card for another user.
type SuggestionCandidate struct {
	UserID     string    `json:"userId"`
	From       Source    `json:"source"` // match | suggested
	MatchedAt  time.Time `json:"matchedAt,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	LastActive time.Time `json:"lastActive,omitempty"`
}

func (s *SuggestionCandidate) Key() string         { return SuggestionKey(s.UserID) }
func (s *SuggestionCandidate) ActorID() string     { return s.UserID }
func (s *SuggestionCandidate) Kind() CandidateKind { return KindSuggestion }
func (s *SuggestionCandidate) Source() Source {
	if s.From == "" {
		return SourceSuggested
	}
	return s.From
}
func (s *SuggestionCandidate) sealed() {}

type QuestionCandidate struct {
	ID        string    `json:"id"`
	QuizID    string    `json:"quizId,omitempty"`
	OwnerID   string    `json:"ownerId,omitempty"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (q *QuestionCandidate) Key() string         { return QuestionKey(q.ID) }
func (q *QuestionCandidate) ActorID() string     { return q.OwnerID }
func (q *QuestionCandidate) Kind() CandidateKind { return KindQuestion }
func (q *QuestionCandidate) Source() Source      { return SourceQuestion }
func (q *QuestionCandidate) sealed()             {}

func PostKey(id string) string           { return "post:" + id }
func SuggestionKey(userID string) string { return "suggestion:" + userID }
func QuestionKey(id string) string       { return "question:" + id }

// CandidateSet is the raw output of the candidate source for one viewer.
type CandidateSet struct {
	Posts       []*PostCandidate
	Suggestions []*SuggestionCandidate
	Questions   []*QuestionCandidate
}

func (c CandidateSet) Len() int {
	return len(c.Posts) + len(c.Suggestions) + len(c.Questions)
}
