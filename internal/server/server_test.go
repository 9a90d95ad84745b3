package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindbot/internal/allowlist"
	"mindbot/internal/config"
	"mindbot/internal/jobs"
	"mindbot/internal/model"
	"mindbot/internal/store/sqlitestore"
)

// failingClient always fails identity resolution: job setup errors must
// surface as success:false with HTTP 200.
type failingClient struct{}

func (failingClient) GetMe(ctx context.Context) (model.User, error) {
	return model.User{}, assert.AnError
}
func (failingClient) GetRecentOwnPosts(ctx context.Context, userID string, limit int) ([]model.Post, error) {
	return nil, nil
}
func (failingClient) GetConversationReplies(ctx context.Context, post model.Post) ([]model.Candidate, error) {
	return nil, nil
}
func (failingClient) GetMentions(ctx context.Context, userID string, since time.Time) ([]model.Candidate, error) {
	return nil, nil
}
func (failingClient) HasAgentReplied(ctx context.Context, conversationID, agentUsername string) (bool, error) {
	return false, nil
}
func (failingClient) PostTweet(ctx context.Context, text string) (string, error) { return "", nil }
func (failingClient) PostReply(ctx context.Context, inReplyTo, text string) (string, error) {
	return "", nil
}

type stubGen struct{}

func (stubGen) Generate(ctx context.Context, query, parentPost string) (model.GeneratedReply, error) {
	return model.GeneratedReply{Response: "ok"}, nil
}

func newTestServer(t *testing.T) (*Server, *allowlist.Store, *sqlitestore.DB) {
	t.Helper()
	db, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	allow := allowlist.NewStore(filepath.Join(t.TempDir(), "allowlist.csv"))
	cfg := config.Default()
	cfg.Account.Username = "agent"
	runner := jobs.NewRunner(failingClient{}, stubGen{}, allow, db, cfg)
	return New(runner, allow, db), allow, db
}

func doJSON(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	code, out := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}

func TestJobFailureReturns200WithSuccessFalse(t *testing.T) {
	s, _, _ := newTestServer(t)
	code, out := doJSON(t, s, http.MethodPost, "/jobs/reply-recent", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])
	errObj, ok := out["error"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, errObj["message"])
}

func TestAddAllowlistEntry(t *testing.T) {
	s, allow, _ := newTestServer(t)
	code, out := doJSON(t, s, http.MethodPost, "/allowlist", `{"username":"AliceBob"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	names, err := allow.ListAllowed()
	require.NoError(t, err)
	assert.Equal(t, []string{"AliceBob"}, names)

	code, out = doJSON(t, s, http.MethodPost, "/allowlist", `{}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])
}

func TestStatsAggregatesEvents(t *testing.T) {
	s, _, db := newTestServer(t)
	now := time.Now().UTC()
	require.NoError(t, db.PutEvent(context.Background(), now.Add(-time.Hour), jobs.JobReplyRecent, map[string]any{"reply_id": "1"}))
	require.NoError(t, db.PutEvent(context.Background(), now.Add(-time.Hour), jobs.JobPostTweet, map[string]any{"tweet_id": "2"}))

	code, out := doJSON(t, s, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, true, out["success"])
	resp, ok := out["response"].(map[string]any)
	require.True(t, ok)
	totals, ok := resp["totals_7d"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, totals[jobs.JobReplyRecent])
	assert.EqualValues(t, 1, totals[jobs.JobPostTweet])
}
