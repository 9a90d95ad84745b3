// Package schedule wires the daily workflows onto a cron scheduler. The
// cron provides the ticks; the per-job locks in jobs.Runner guarantee a
// late-running job is skipped rather than doubled.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"mindbot/internal/config"
	"mindbot/internal/jobs"
	"mindbot/internal/logging"
)

// Start registers the configured job specs and starts the scheduler.
// Empty specs disable their job.
func Start(ctx context.Context, r *jobs.Runner, cfg config.ScheduleConfig) (*cron.Cron, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	c := cron.New(cron.WithLocation(loc))
	add := func(spec, name string, f func(context.Context) (jobs.Result, error)) error {
		if spec == "" {
			return nil
		}
		_, err := c.AddFunc(spec, func() {
			if _, err := f(ctx); err != nil && err != jobs.ErrBusy {
				logging.Error("scheduled_job_failed", map[string]any{"job": name, "error": err.Error()})
			}
		})
		return err
	}
	if err := add(cfg.PostTweet, jobs.JobPostTweet, r.RunPostTweet); err != nil {
		return nil, err
	}
	if err := add(cfg.ReplyRecent, jobs.JobReplyRecent, r.RunReplyRecent); err != nil {
		return nil, err
	}
	if err := add(cfg.ReplyMentions, jobs.JobReplyMentions, r.RunReplyMentions); err != nil {
		return nil, err
	}
	c.Start()
	logging.Info("scheduler_started", map[string]any{"timezone": tz})
	return c, nil
}
