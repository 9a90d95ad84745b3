// Package server is the HTTP facade over the workflows. Business-logic
// failures return 200 with success:false; 5xx is reserved for unexpected
// internal faults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mindbot/internal/allowlist"
	"mindbot/internal/analytics"
	"mindbot/internal/jobs"
	"mindbot/internal/store/sqlitestore"
)

type Server struct {
	runner *jobs.Runner
	allow  *allowlist.Store
	db     *sqlitestore.DB
	engine *gin.Engine
}

func New(runner *jobs.Runner, allow *allowlist.Store, db *sqlitestore.DB) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{runner: runner, allow: allow, db: db, engine: gin.New()}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/stats", s.stats)
	s.engine.POST("/jobs/post", s.runJob(s.runner.RunPostTweet))
	s.engine.POST("/jobs/reply-recent", s.runJob(s.runner.RunReplyRecent))
	s.engine.POST("/jobs/reply-mentions", s.runJob(s.runner.RunReplyMentions))
	s.engine.POST("/allowlist", s.addAllowed)
}

// Run blocks serving on addr.
func (s *Server) Run(addr string) error { return s.engine.Run(addr) }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func ok(c *gin.Context, response any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "response": response})
}

func fail(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"success": false, "error": gin.H{"message": msg}})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) runJob(f func(context.Context) (jobs.Result, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := f(c.Request.Context())
		if err != nil {
			fail(c, err.Error())
			return
		}
		ok(c, res)
	}
}

func (s *Server) stats(c *gin.Context) {
	if s.db == nil {
		fail(c, "no storage configured")
		return
	}
	now := time.Now().UTC()
	weekAgo := now.Add(-7 * 24 * time.Hour)
	totals, err := s.db.CountEventsByType(c.Request.Context(), weekAgo, now.Add(time.Minute))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"message": err.Error()}})
		return
	}
	events, err := s.db.LoadEventsRange(c.Request.Context(), now.Add(-24*time.Hour), now.Add(time.Minute), "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"message": err.Error()}})
		return
	}
	buckets := analytics.HourlyActivity(events)
	hourly := make([]gin.H, 0, len(buckets))
	for _, k := range analytics.SortedBucketKeys(buckets) {
		hourly = append(hourly, gin.H{"hour": k.Format(time.RFC3339), "counts": buckets[k]})
	}
	ok(c, gin.H{"totals_7d": totals, "hourly_24h": hourly})
}

type addAllowedReq struct {
	Username string `json:"username" binding:"required"`
}

func (s *Server) addAllowed(c *gin.Context) {
	var req addAllowedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "username is required")
		return
	}
	if err := s.allow.Add(req.Username); err != nil {
		fail(c, err.Error())
		return
	}
	ok(c, gin.H{"username": req.Username})
}
