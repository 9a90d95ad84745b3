package model

import "time"

// User represents a subset of X user fields used by the agent.
type User struct {
	ID       string
	Username string
	Name     string
}

// Post is one of the agent's own published tweets.
type Post struct {
	ID           string
	Text         string
	CreatedAt    time.Time
	LikeCount    int
	ReplyCount   int
	RetweetCount int
	QuoteCount   int
}

// Candidate is a reply or mention the agent might respond to.
// ParentPostText carries the text of the post being replied to; for a
// top-level mention it falls back to the mention's own text.
type Candidate struct {
	TweetID        string
	ConversationID string
	AuthorUsername string
	Text           string
	CreatedAt      time.Time
	ParentPostText string
}

// Classification is the structured output of the external query classifier.
type Classification struct {
	Category     string   `json:"category"` // "token" or "general"
	TokenNames   []string `json:"token_names,omitempty"`
	TokenAddress string   `json:"token_address,omitempty"`
}

// GeneratedReply bundles the generator's answer for one query.
type GeneratedReply struct {
	Response       string         `json:"response"`
	Classification Classification `json:"classification"`
	Context        string         `json:"context"`
}
