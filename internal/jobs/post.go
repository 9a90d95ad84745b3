package jobs

import (
	"context"
	"errors"
	"strconv"

	"mindbot/internal/logging"
	"mindbot/internal/metrics"
	"mindbot/internal/util"
	"mindbot/internal/xclient"
)

const promptCursorKey = "post:prompt_idx"

// RunPostTweet generates a fresh persona post from the configured prompt
// rotation and publishes it.
func (r *Runner) RunPostTweet(ctx context.Context) (Result, error) {
	return r.run(JobPostTweet, func(runID string) (Result, error) {
		res := Result{RepliedIDs: []string{}}
		prompts := r.cfg.Generator.PostPrompts
		if len(prompts) == 0 {
			return res, errors.New("no post prompts configured")
		}
		idx := 0
		if r.db != nil {
			if v, err := r.db.LoadCursor(ctx, promptCursorKey); err == nil && v != "" {
				if n, err := strconv.Atoi(v); err == nil { idx = n % len(prompts) }
			}
		}
		prompt := prompts[idx]
		gen, err := r.gen.Generate(ctx, prompt, "")
		if err != nil {
			return res, err
		}
		text := util.TruncateRunes(util.NormalizeWhitespace(gen.Response), xclient.MaxTweetRunes)
		id, err := r.client.PostTweet(ctx, text)
		if err != nil {
			return res, err
		}
		metrics.TweetsPosted.Inc()
		if r.db != nil {
			_ = r.db.PutAction(ctx, r.nowFn(), "post")
			_ = r.db.PutEvent(ctx, r.nowFn(), JobPostTweet, map[string]any{"tweet_id": id})
			_ = r.db.SaveCursor(ctx, promptCursorKey, strconv.Itoa((idx+1)%len(prompts)))
		}
		logging.Info("tweet_posted", map[string]any{"run_id": runID, "tweet_id": id})
		res.PostedID = id
		return res, nil
	})
}
