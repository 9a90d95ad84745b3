package jobs

import (
	"context"
	"time"

	"mindbot/internal/engine"
	"mindbot/internal/logging"
	"mindbot/internal/metrics"
	"mindbot/internal/model"
	"mindbot/internal/util"
	"mindbot/internal/xclient"
)

// RunReplyRecent gathers replies to the agent's most recent posts, runs
// them through the eligibility engine, and answers the survivors.
func (r *Runner) RunReplyRecent(ctx context.Context) (Result, error) {
	return r.run(JobReplyRecent, func(runID string) (Result, error) {
		me, err := r.identity(ctx)
		if err != nil {
			return Result{}, err
		}
		posts, err := r.client.GetRecentOwnPosts(ctx, me.ID, 10)
		if err != nil {
			return Result{}, err
		}
		if len(posts) > r.cfg.Reply.RecentPosts && r.cfg.Reply.RecentPosts > 0 {
			posts = posts[:r.cfg.Reply.RecentPosts]
		}
		var candidates []model.Candidate
		for _, p := range posts {
			cs, err := r.client.GetConversationReplies(ctx, p)
			if err != nil {
				// read errors degrade to no data for this post
				logging.Warn("conversation_fetch_failed", map[string]any{
					"run_id": runID, "post_id": p.ID, "error": err.Error(),
				})
			}
			candidates = append(candidates, cs...)
		}
		return r.replyToCandidates(ctx, runID, JobReplyRecent, me, candidates)
	})
}

// RunReplyMentions answers today's mentions of the agent account.
func (r *Runner) RunReplyMentions(ctx context.Context) (Result, error) {
	return r.run(JobReplyMentions, func(runID string) (Result, error) {
		me, err := r.identity(ctx)
		if err != nil {
			return Result{}, err
		}
		now := r.nowFn()
		// mentions are same-day only (UTC calendar day); the recency
		// window narrows further inside the engine
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		candidates, err := r.client.GetMentions(ctx, me.ID, dayStart)
		if err != nil {
			logging.Warn("mentions_fetch_failed", map[string]any{"run_id": runID, "error": err.Error()})
		}
		return r.replyToCandidates(ctx, runID, JobReplyMentions, me, candidates)
	})
}

// replyToCandidates is the shared tail of both reply jobs: filter the raw
// batch, then generate and post one reply per accepted candidate. Replies
// already posted stay posted when a later candidate fails.
func (r *Runner) replyToCandidates(ctx context.Context, runID, job string, me model.User, raw []model.Candidate) (Result, error) {
	res := Result{RepliedIDs: []string{}}
	allowedNames, err := r.allow.ListAllowed()
	if err != nil {
		return res, err
	}
	now := r.nowFn()
	targets := engine.SelectReplyTargets(ctx, raw, engine.AllowedSet(allowedNames), now,
		r.cfg.Reply.WindowHours, r.cfg.Reply.MaxPerRun, r.client, me.Username)
	for _, c := range targets {
		if !r.withinDailyBudget(ctx, r.nowFn()) {
			logging.Warn("reply_budget_exhausted", map[string]any{"run_id": runID})
			res.Skipped++
			continue
		}
		gen, err := r.gen.Generate(ctx, c.Text, c.ParentPostText)
		if err != nil {
			logging.Error("generate_failed", map[string]any{
				"run_id": runID, "tweet_id": c.TweetID, "error": err.Error(),
			})
			res.Skipped++
			continue
		}
		text := util.TruncateRunes(util.NormalizeWhitespace(gen.Response), xclient.MaxTweetRunes)
		replyID, err := r.client.PostReply(ctx, c.TweetID, text)
		if err != nil {
			logging.Error("post_reply_failed", map[string]any{
				"run_id": runID, "tweet_id": c.TweetID, "error": err.Error(),
			})
			res.Skipped++
			continue
		}
		metrics.RepliesPosted.Inc()
		r.recordReply(ctx, r.nowFn(), job, c, replyID)
		logging.Info("reply_posted", map[string]any{
			"run_id": runID, "tweet_id": c.TweetID, "reply_id": replyID,
			"username": c.AuthorUsername, "category": gen.Classification.Category,
		})
		res.RepliedIDs = append(res.RepliedIDs, c.TweetID)
	}
	return res, nil
}
