// Package engine decides, for a batch of candidate replies and mentions,
// which ones the agent should answer. Filters apply in a fixed order:
// allow-list first (cheapest, no network), recency second, and the
// already-replied check last so it runs on the smallest possible set.
package engine

import (
	"context"
	"sort"
	"time"

	"mindbot/internal/logging"
	"mindbot/internal/metrics"
	"mindbot/internal/model"
)

// ReplyOracle answers whether the agent already replied inside a
// conversation. The remote conversation history is the source of truth;
// there is no local cache across runs. xclient.HTTPClient implements it,
// tests use an in-memory fake.
type ReplyOracle interface {
	HasAgentReplied(ctx context.Context, conversationID, agentUsername string) (bool, error)
}

// AllowedSet builds a membership set from a username list. Comparisons
// against it are case-sensitive string matches.
func AllowedSet(usernames []string) map[string]bool {
	set := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		set[u] = true
	}
	return set
}

// FilterByAllowlist keeps candidates whose author is in allowed.
// Order-preserving, no side effects.
func FilterByAllowlist(candidates []model.Candidate, allowed map[string]bool) []model.Candidate {
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if allowed[c.AuthorUsername] {
			out = append(out, c)
		} else {
			metrics.IncRejected("allowlist")
		}
	}
	return out
}

// FilterByRecency keeps candidates created within the trailing window,
// sorted newest-first, truncated to maxCount. The cutoff derives from a
// single now sample so the whole batch sees one consistent boundary.
// A non-positive window or cap yields an empty result.
func FilterByRecency(candidates []model.Candidate, now time.Time, windowHours, maxCount int) []model.Candidate {
	if windowHours <= 0 || maxCount <= 0 {
		return nil
	}
	cutoff := now.UTC().Add(-time.Duration(windowHours) * time.Hour)
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.CreatedAt.Before(cutoff) {
			metrics.IncRejected("stale")
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

// FilterUnreplied is the dedup step. Within one invocation it accepts at
// most one candidate per conversation and at most one per
// (parent post, author) pair; across runs it defers to the oracle so an
// already-answered thread is never answered twice. Candidates arrive
// newest-first from FilterByRecency, so when two candidates share a
// conversation the newest wins.
//
// An oracle failure for a single candidate skips that candidate and moves
// on: missing a reply is recoverable on the next scheduled run, a
// duplicate post is not.
func FilterUnreplied(ctx context.Context, candidates []model.Candidate, oracle ReplyOracle, agentUsername string) []model.Candidate {
	seenConversations := map[string]bool{}
	repliedUsersByPost := map[string]map[string]bool{}
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if seenConversations[c.ConversationID] {
			metrics.IncRejected("duplicate_conversation")
			continue
		}
		if repliedUsersByPost[c.ParentPostText][c.AuthorUsername] {
			metrics.IncRejected("duplicate_post_user")
			continue
		}
		answered, err := oracle.HasAgentReplied(ctx, c.ConversationID, agentUsername)
		if err != nil {
			metrics.IncRejected("oracle_error")
			logging.Warn("reply_check_failed", map[string]any{
				"tweet_id":        c.TweetID,
				"conversation_id": c.ConversationID,
				"error":           err.Error(),
			})
			continue
		}
		if answered {
			metrics.IncRejected("already_answered")
			continue
		}
		out = append(out, c)
		seenConversations[c.ConversationID] = true
		if repliedUsersByPost[c.ParentPostText] == nil {
			repliedUsersByPost[c.ParentPostText] = map[string]bool{}
		}
		repliedUsersByPost[c.ParentPostText][c.AuthorUsername] = true
	}
	return out
}

// SelectReplyTargets composes the three filters in their fixed order and
// returns the candidates that should receive a generated reply.
func SelectReplyTargets(ctx context.Context, raw []model.Candidate, allowed map[string]bool, now time.Time, windowHours, maxCount int, oracle ReplyOracle, agentUsername string) []model.Candidate {
	cs := FilterByAllowlist(raw, allowed)
	cs = FilterByRecency(cs, now, windowHours, maxCount)
	return FilterUnreplied(ctx, cs, oracle, agentUsername)
}
