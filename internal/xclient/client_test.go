package xclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mindbot/internal/model"
)

// helper to create client with injected http client
func newTestClient(baseURL string, hc *http.Client) *HTTPClient {
	c := NewHTTPClient("test")
	c.baseURL = baseURL
	c.httpClient = hc
	c.maxAttempts = 3
	c.baseBackoff = 10 * time.Millisecond
	return c
}

func TestDoWithRetryHandles429(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, ts.Client())
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/test", nil)
	resp, err := c.doWithRetry(context.Background(), req, "test")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestGetConversationRepliesMergesAndDedupesPages(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("next_token") == "" {
			fmt.Fprint(w, `{
				"data":[
					{"id":"101","text":"first","author_id":"u1","conversation_id":"100","created_at":"2026-03-01T10:00:00Z"},
					{"id":"100","text":"the post itself","author_id":"u0","conversation_id":"100","created_at":"2026-03-01T09:00:00Z"}
				],
				"includes":{"users":[{"id":"u1","username":"alice"},{"id":"u0","username":"agent"}]},
				"meta":{"next_token":"T2"}
			}`)
			return
		}
		fmt.Fprint(w, `{
			"data":[
				{"id":"101","text":"first","author_id":"u1","conversation_id":"100","created_at":"2026-03-01T10:00:00Z"},
				{"id":"102","text":"second","author_id":"u2","conversation_id":"100","created_at":"2026-03-01T11:00:00Z"}
			],
			"includes":{"users":[{"id":"u1","username":"alice"},{"id":"u2","username":"bob"}]},
			"meta":{}
		}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, ts.Client())
	post := model.Post{ID: "100", Text: "parent text"}
	got, err := c.GetConversationReplies(context.Background(), post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].TweetID != "101" || got[1].TweetID != "102" {
		t.Fatalf("unexpected ids: %s %s", got[0].TweetID, got[1].TweetID)
	}
	for _, cand := range got {
		if cand.ParentPostText != "parent text" {
			t.Fatalf("missing parent post text on %s", cand.TweetID)
		}
		if cand.ConversationID != "100" {
			t.Fatalf("wrong conversation id on %s", cand.TweetID)
		}
	}
}

func TestHasAgentRepliedShortCircuits(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data":[{"id":"201","text":"hi","author_id":"u7","conversation_id":"200","created_at":"2026-03-01T10:00:00Z"}],
			"includes":{"users":[{"id":"u7","username":"AgentX"}]},
			"meta":{"next_token":"MORE"}
		}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, ts.Client())
	ok, err := c.HasAgentReplied(context.Background(), "200", "agentx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected case-insensitive match")
	}
	if requests != 1 {
		t.Fatalf("expected short-circuit after 1 page, got %d requests", requests)
	}
}

func TestHasAgentRepliedIgnoresRootPost(t *testing.T) {
	// the recent-search returns the conversation's root post too, and in
	// the reply-recent flow the root is the agent's own tweet; only
	// replies may count as a prior answer
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data":[
				{"id":"200","text":"agent's original post","author_id":"u0","conversation_id":"200","created_at":"2026-03-01T09:00:00Z"},
				{"id":"201","text":"love this","author_id":"u7","conversation_id":"200","created_at":"2026-03-01T10:00:00Z"}
			],
			"includes":{"users":[{"id":"u0","username":"agent"},{"id":"u7","username":"fan"}]},
			"meta":{}
		}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, ts.Client())
	ok, err := c.HasAgentReplied(context.Background(), "200", "agent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("root post authored by the agent is not a prior reply")
	}
}

func TestHasAgentRepliedMatchesOwnReplyBelowRoot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data":[
				{"id":"200","text":"agent's original post","author_id":"u0","conversation_id":"200","created_at":"2026-03-01T09:00:00Z"},
				{"id":"202","text":"thanks!","author_id":"u0","conversation_id":"200","created_at":"2026-03-01T11:00:00Z"}
			],
			"includes":{"users":[{"id":"u0","username":"agent"}]},
			"meta":{}
		}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, ts.Client())
	ok, err := c.HasAgentReplied(context.Background(), "200", "agent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("agent reply below the root should count as a prior answer")
	}
}

func TestHasAgentRepliedNoMatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data":[{"id":"201","text":"hi","author_id":"u7","conversation_id":"200","created_at":"2026-03-01T10:00:00Z"}],
			"includes":{"users":[{"id":"u7","username":"someone"}]},
			"meta":{}
		}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, ts.Client())
	ok, err := c.HasAgentReplied(context.Background(), "200", "agent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no match")
	}
}

func TestGetMentionsResolvesParentsAndDropsOwnThreads(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data":[
				{"id":"m1","text":"@agent nice","author_id":"u9","conversation_id":"c1","created_at":"2026-03-01T10:00:00Z",
				 "referenced_tweets":[{"type":"replied_to","id":"p1"}]},
				{"id":"m2","text":"@agent what about this","author_id":"u9","conversation_id":"c2","created_at":"2026-03-01T11:00:00Z",
				 "referenced_tweets":[{"type":"replied_to","id":"p2"}]},
				{"id":"m3","text":"@agent hello there","author_id":"u9","created_at":"2026-03-01T12:00:00Z"}
			],
			"includes":{
				"users":[{"id":"u9","username":"carol"}],
				"tweets":[
					{"id":"p1","text":"agent's own post","author_id":"42"},
					{"id":"p2","text":"someone else's post","author_id":"u8"}
				]
			},
			"meta":{}
		}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, ts.Client())
	got, err := c.GetMentions(context.Background(), "42", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 mentions after dropping own-thread, got %d", len(got))
	}
	if got[0].TweetID != "m2" || got[0].ParentPostText != "someone else's post" {
		t.Fatalf("parent not resolved: %+v", got[0])
	}
	// top-level mention falls back to its own text and its own conversation
	if got[1].TweetID != "m3" || got[1].ParentPostText != "@agent hello there" {
		t.Fatalf("fallback parent wrong: %+v", got[1])
	}
	if got[1].ConversationID != "m3" {
		t.Fatalf("expected conversation fallback to tweet id, got %s", got[1].ConversationID)
	}
}

func TestGetRecentOwnPostsSortsAndTolerantOfEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data":[
				{"id":"1","text":"older","created_at":"2026-03-01T08:00:00Z","public_metrics":{"like_count":1}},
				{"id":"2","text":"newest","created_at":"2026-03-01T10:00:00Z","public_metrics":{"like_count":2}},
				{"id":"3","text":"middle","created_at":"2026-03-01T09:00:00Z","public_metrics":{"like_count":3}}
			]
		}`)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, ts.Client())
	got, err := c.GetRecentOwnPosts(context.Background(), "42", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0].ID != "2" || got[1].ID != "3" || got[2].ID != "1" {
		t.Fatalf("wrong order: %+v", got)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer empty.Close()
	c2 := newTestClient(empty.URL, empty.Client())
	got, err = c2.GetRecentOwnPosts(context.Background(), "42", 10)
	if err != nil {
		t.Fatalf("empty account should not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no posts, got %d", len(got))
	}
}
