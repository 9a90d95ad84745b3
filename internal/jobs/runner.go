// Package jobs implements the scheduled workflows: posting a fresh persona
// tweet, replying to recent conversations, and replying to mentions. A job
// run is a unit: fetch, filter, generate, post, record. Candidate-level
// failures never abort the run; setup failures do.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindbot/internal/config"
	"mindbot/internal/logging"
	"mindbot/internal/metrics"
	"mindbot/internal/model"
	"mindbot/internal/store/sqlitestore"
	"mindbot/internal/util"
	"mindbot/internal/xclient"
)

// Job names, also used as event/action types in the store.
const (
	JobPostTweet     = "post_tweet"
	JobReplyRecent   = "reply_recent"
	JobReplyMentions = "reply_mentions"
)

// ErrBusy means a previous run of the same job is still in flight and this
// tick was skipped.
var ErrBusy = errors.New("job already running")

// Generator produces a persona response for a query. generator.Client
// implements it; tests provide stubs.
type Generator interface {
	Generate(ctx context.Context, query, parentPost string) (model.GeneratedReply, error)
}

// AllowSource lists the usernames permitted to receive replies.
type AllowSource interface {
	ListAllowed() ([]string, error)
}

// Result is the uniform outcome of one job run. RepliedIDs lists the tweet
// ids actually replied to, even when later candidates failed.
type Result struct {
	Job        string   `json:"job"`
	RunID      string   `json:"run_id"`
	PostedID   string   `json:"posted_id,omitempty"`
	RepliedIDs []string `json:"replied_ids"`
	Skipped    int      `json:"skipped"`
}

// Runner owns the shared collaborators and the per-job single-flight locks.
type Runner struct {
	client xclient.Client
	gen    Generator
	allow  AllowSource
	db     *sqlitestore.DB
	cfg    config.Config

	locks map[string]*sync.Mutex
	nowFn func() time.Time
}

func NewRunner(client xclient.Client, gen Generator, allow AllowSource, db *sqlitestore.DB, cfg config.Config) *Runner {
	return &Runner{
		client: client,
		gen:    gen,
		allow:  allow,
		db:     db,
		cfg:    cfg,
		locks: map[string]*sync.Mutex{
			JobPostTweet:     {},
			JobReplyRecent:   {},
			JobReplyMentions: {},
		},
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// run wraps a job body with the single-flight lock, run id, metrics, and
// duration accounting. Two ticks of the same job never overlap; the later
// one is skipped with ErrBusy.
func (r *Runner) run(job string, body func(runID string) (Result, error)) (Result, error) {
	mu := r.locks[job]
	if !mu.TryLock() {
		metrics.JobSkipped.WithLabelValues(job).Inc()
		logging.Warn("job_overlap_skipped", map[string]any{"job": job})
		return Result{Job: job}, ErrBusy
	}
	defer mu.Unlock()
	runID := uuid.NewString()
	start := time.Now()
	metrics.JobRuns.WithLabelValues(job).Inc()
	logging.Info("job_start", map[string]any{"job": job, "run_id": runID})
	res, err := body(runID)
	res.Job = job
	res.RunID = runID
	if err != nil {
		metrics.JobErrors.WithLabelValues(job).Inc()
		logging.Error("job_failed", map[string]any{"job": job, "run_id": runID, "error": err.Error()})
	} else {
		logging.Info("job_done", map[string]any{
			"job": job, "run_id": runID,
			"replied": len(res.RepliedIDs), "skipped": res.Skipped,
		})
	}
	metrics.ObserveJobDuration(job, start)
	return res, err
}

// identity resolves the authenticated account and cross-checks it against
// the configured username. Credentials for the wrong account abort the run
// before anything is posted under the wrong name.
func (r *Runner) identity(ctx context.Context) (model.User, error) {
	me, err := r.client.GetMe(ctx)
	if err != nil {
		return me, err
	}
	if r.cfg.Account.Username != "" && !util.EqualFold(me.Username, r.cfg.Account.Username) {
		return me, fmt.Errorf("credentials belong to @%s, config expects @%s", me.Username, r.cfg.Account.Username)
	}
	return me, nil
}

// withinDailyBudget checks the reply budget for now against recorded actions.
func (r *Runner) withinDailyBudget(ctx context.Context, now time.Time) bool {
	if r.cfg.Reply.MaxPerDay <= 0 || r.db == nil {
		return true
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	n, err := r.db.CountActionsWithin(ctx, dayStart, dayStart.Add(24*time.Hour), "reply")
	if err != nil {
		logging.Warn("budget_check_failed", map[string]any{"error": err.Error()})
		return true
	}
	return n < r.cfg.Reply.MaxPerDay
}

func (r *Runner) recordReply(ctx context.Context, now time.Time, job string, c model.Candidate, replyID string) {
	if r.db == nil {
		return
	}
	_ = r.db.PutAction(ctx, now, "reply")
	_ = r.db.PutEvent(ctx, now, job, map[string]any{
		"reply_id":        replyID,
		"tweet_id":        c.TweetID,
		"conversation_id": c.ConversationID,
		"username":        c.AuthorUsername,
	})
}
