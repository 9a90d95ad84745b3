package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mindbot/internal/metrics"
	"mindbot/internal/model"
	"mindbot/internal/util"
)

// Client defines the platform operations the jobs and the eligibility
// engine consume. The HTTP implementation talks to the X API; tests use
// in-memory fakes.
type Client interface {
	GetMe(ctx context.Context) (model.User, error)
	GetRecentOwnPosts(ctx context.Context, userID string, limit int) ([]model.Post, error)
	GetConversationReplies(ctx context.Context, post model.Post) ([]model.Candidate, error)
	GetMentions(ctx context.Context, userID string, since time.Time) ([]model.Candidate, error)
	HasAgentReplied(ctx context.Context, conversationID, agentUsername string) (bool, error)
	PostTweet(ctx context.Context, text string) (string, error)
	PostReply(ctx context.Context, inReplyTo, text string) (string, error)
}

// HTTPClient is a bearer-token client for X API v2 reads, with optional
// OAuth 1.0a user-context signing for writes.
type HTTPClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
	maxPages    int
	signer      *oauth1Signer
	// concurrent jobs share one account; writes go out one at a time
	writeMu sync.Mutex
}

func NewHTTPClient(bearerToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:     "https://api.twitter.com/2",
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     newDefaultLimiter(),
		maxAttempts: getEnvInt("X_API_MAX_ATTEMPTS", 5),
		baseBackoff: time.Duration(getEnvInt("X_API_BASE_BACKOFF_MS", 500)) * time.Millisecond,
		maxPages:    getEnvInt("X_API_MAX_PAGES", 10),
	}
}

// WithOAuth1 attaches user-context credentials for write endpoints.
func (c *HTTPClient) WithOAuth1(ck, cs, at, as string) *HTTPClient {
	c.signer = newOAuth1Signer(ck, cs, at, as)
	return c
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	req.Header.Set("Accept", "application/json")
}

// GetMe resolves the authenticated account's identity. Jobs treat a
// failure here as fatal: nothing downstream is safe without it.
func (c *HTTPClient) GetMe(ctx context.Context) (model.User, error) {
	var out model.User
	u := c.baseURL + "/users/me"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	if err := c.limiter.Wait(ctx); err != nil { return out, err }
	resp, err := c.doWithRetry(ctx, req, "users_me")
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return out, &APIError{StatusCode: resp.StatusCode}
	}
	var raw struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return out, err
	}
	if raw.Data.ID == "" {
		return out, errors.New("empty identity in response")
	}
	return model.User{ID: raw.Data.ID, Username: raw.Data.Username, Name: raw.Data.Name}, nil
}

// GetRecentOwnPosts returns the account's most recent original posts,
// newest first, excluding retweets and replies. An empty account yields
// an empty slice, not an error.
func (c *HTTPClient) GetRecentOwnPosts(ctx context.Context, userID string, limit int) ([]model.Post, error) {
	u := fmt.Sprintf("%s/users/%s/tweets?max_results=%d&tweet.fields=created_at,public_metrics&exclude=retweets,replies",
		c.baseURL, url.PathEscape(userID), clamp(limit, 5, 100))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	if err := c.limiter.Wait(ctx); err != nil { return nil, err }
	resp, err := c.doWithRetry(ctx, req, "user_tweets")
	if err != nil { return nil, err }
	defer resp.Body.Close()
	if resp.StatusCode >= 400 { return nil, &APIError{StatusCode: resp.StatusCode} }
	var raw struct {
		Data []struct {
			ID            string    `json:"id"`
			Text          string    `json:"text"`
			CreatedAt     time.Time `json:"created_at"`
			PublicMetrics struct {
				LikeCount    int `json:"like_count"`
				ReplyCount   int `json:"reply_count"`
				RetweetCount int `json:"retweet_count"`
				QuoteCount   int `json:"quote_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil { return nil, err }
	out := make([]model.Post, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, model.Post{
			ID:           d.ID,
			Text:         d.Text,
			CreatedAt:    d.CreatedAt,
			LikeCount:    d.PublicMetrics.LikeCount,
			ReplyCount:   d.PublicMetrics.ReplyCount,
			RetweetCount: d.PublicMetrics.RetweetCount,
			QuoteCount:   d.PublicMetrics.QuoteCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit && limit > 0 { out = out[:limit] }
	return out, nil
}

// conversationPage is one page of a recent-search over a conversation.
type conversationPage struct {
	Data []struct {
		ID             string    `json:"id"`
		Text           string    `json:"text"`
		AuthorID       string    `json:"author_id"`
		ConversationID string    `json:"conversation_id"`
		CreatedAt      time.Time `json:"created_at"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

func (c *HTTPClient) searchConversationPage(ctx context.Context, conversationID, nextToken string) (conversationPage, error) {
	var page conversationPage
	q := url.QueryEscape(fmt.Sprintf("conversation_id:%s -is:retweet", conversationID))
	u := fmt.Sprintf("%s/tweets/search/recent?max_results=100&query=%s&tweet.fields=author_id,created_at,conversation_id&expansions=author_id&user.fields=username",
		c.baseURL, q)
	if nextToken != "" {
		u += "&next_token=" + url.QueryEscape(nextToken)
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	if err := c.limiter.Wait(ctx); err != nil { return page, err }
	resp, err := c.doWithRetry(ctx, req, "search_recent")
	if err != nil { return page, err }
	defer resp.Body.Close()
	if resp.StatusCode >= 400 { return page, &APIError{StatusCode: resp.StatusCode} }
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil { return page, err }
	return page, nil
}

// GetConversationReplies pages through all replies in post's conversation,
// merges the pages into one list, and dedupes by tweet id in case the
// platform returns overlapping pages. Every candidate carries the post's
// text as ParentPostText.
func (c *HTTPClient) GetConversationReplies(ctx context.Context, post model.Post) ([]model.Candidate, error) {
	var out []model.Candidate
	seen := map[string]bool{}
	nextToken := ""
	for i := 0; i < c.maxPages; i++ {
		page, err := c.searchConversationPage(ctx, post.ID, nextToken)
		if err != nil {
			return out, err
		}
		users := map[string]string{}
		for _, u := range page.Includes.Users {
			users[u.ID] = u.Username
		}
		for _, d := range page.Data {
			if d.ID == post.ID || seen[d.ID] {
				continue
			}
			username, ok := users[d.AuthorID]
			if !ok {
				continue
			}
			seen[d.ID] = true
			out = append(out, model.Candidate{
				TweetID:        d.ID,
				ConversationID: post.ID,
				AuthorUsername: username,
				Text:           d.Text,
				CreatedAt:      d.CreatedAt,
				ParentPostText: post.Text,
			})
		}
		if page.Meta.NextToken == "" {
			break
		}
		nextToken = page.Meta.NextToken
	}
	return out, nil
}

// HasAgentReplied pages the conversation's tweets and returns true on the
// first reply authored by agentUsername (case-insensitive). It is the dedup
// oracle: the platform's own history decides whether a thread was answered.
// The search also returns the conversation's root post; only replies count,
// so the root is skipped (the agent authoring the root post is the normal
// case, not a prior answer).
func (c *HTTPClient) HasAgentReplied(ctx context.Context, conversationID, agentUsername string) (bool, error) {
	nextToken := ""
	for i := 0; i < c.maxPages; i++ {
		page, err := c.searchConversationPage(ctx, conversationID, nextToken)
		if err != nil {
			return false, err
		}
		users := map[string]string{}
		for _, u := range page.Includes.Users {
			users[u.ID] = u.Username
		}
		for _, d := range page.Data {
			if d.ID == conversationID {
				continue
			}
			if util.EqualFold(users[d.AuthorID], agentUsername) {
				return true, nil
			}
		}
		if page.Meta.NextToken == "" {
			break
		}
		nextToken = page.Meta.NextToken
	}
	return false, nil
}

// GetMentions returns mentions of the account created at or after since.
// When a mention references a parent tweet, the parent's text becomes
// ParentPostText; a top-level mention falls back to its own text. Mentions
// whose resolved parent was authored by the agent itself are dropped.
func (c *HTTPClient) GetMentions(ctx context.Context, userID string, since time.Time) ([]model.Candidate, error) {
	var out []model.Candidate
	seen := map[string]bool{}
	nextToken := ""
	for i := 0; i < c.maxPages; i++ {
		u := fmt.Sprintf("%s/users/%s/mentions?max_results=100&start_time=%s&tweet.fields=author_id,created_at,conversation_id,referenced_tweets&expansions=author_id,referenced_tweets.id,referenced_tweets.id.author_id&user.fields=username",
			c.baseURL, url.PathEscape(userID), url.QueryEscape(since.UTC().Format(time.RFC3339)))
		if nextToken != "" {
			u += "&pagination_token=" + url.QueryEscape(nextToken)
		}
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		c.auth(req)
		if err := c.limiter.Wait(ctx); err != nil { return out, err }
		resp, err := c.doWithRetry(ctx, req, "mentions")
		if err != nil { return out, err }
		var raw struct {
			Data []struct {
				ID               string    `json:"id"`
				Text             string    `json:"text"`
				AuthorID         string    `json:"author_id"`
				ConversationID   string    `json:"conversation_id"`
				CreatedAt        time.Time `json:"created_at"`
				ReferencedTweets []struct {
					Type string `json:"type"`
					ID   string `json:"id"`
				} `json:"referenced_tweets"`
			} `json:"data"`
			Includes struct {
				Users []struct {
					ID       string `json:"id"`
					Username string `json:"username"`
				} `json:"users"`
				Tweets []struct {
					ID       string `json:"id"`
					Text     string `json:"text"`
					AuthorID string `json:"author_id"`
				} `json:"tweets"`
			} `json:"includes"`
			Meta struct {
				NextToken string `json:"next_token"`
			} `json:"meta"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&raw)
		status := resp.StatusCode
		_ = resp.Body.Close()
		if status >= 400 { return out, &APIError{StatusCode: status} }
		if decodeErr != nil { return out, decodeErr }
		users := map[string]string{}
		for _, iu := range raw.Includes.Users {
			users[iu.ID] = iu.Username
		}
		parents := map[string]struct{ Text, AuthorID string }{}
		for _, it := range raw.Includes.Tweets {
			parents[it.ID] = struct{ Text, AuthorID string }{it.Text, it.AuthorID}
		}
		for _, d := range raw.Data {
			if seen[d.ID] || d.AuthorID == userID {
				continue
			}
			username, ok := users[d.AuthorID]
			if !ok {
				continue
			}
			parentText := d.Text
			skip := false
			for _, ref := range d.ReferencedTweets {
				if ref.Type != "replied_to" && ref.Type != "quoted" {
					continue
				}
				if p, ok := parents[ref.ID]; ok {
					if p.AuthorID == userID {
						// our own thread; never answer ourselves
						skip = true
						break
					}
					parentText = p.Text
				}
			}
			if skip {
				continue
			}
			seen[d.ID] = true
			conv := d.ConversationID
			if conv == "" {
				conv = d.ID
			}
			out = append(out, model.Candidate{
				TweetID:        d.ID,
				ConversationID: conv,
				AuthorUsername: username,
				Text:           d.Text,
				CreatedAt:      d.CreatedAt,
				ParentPostText: parentText,
			})
		}
		if raw.Meta.NextToken == "" {
			break
		}
		nextToken = raw.Meta.NextToken
	}
	return out, nil
}

func clamp(v, min, max int) int { if v < min { return min }; if v > max { return max }; return v }

// doWithRetry waits on rate limits and retries transient failures with a
// jittered exponential backoff. Read path only; writes fail fast instead.
func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request, endpoint string) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				ra := resp.Header.Get("Retry-After")
				_ = resp.Body.Close()
				metrics.IncAPIRetry(endpoint)
				wait := backoff
				if ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						wait = time.Duration(secs) * time.Second
					} else if t, err := http.ParseTime(ra); err == nil {
						if d := time.Until(t); d > 0 { wait = d }
					}
				}
				// jitter +/-20%
				jitter := time.Duration(float64(wait) * 0.2)
				if jitter > 0 {
					wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		metrics.IncAPIRetry(endpoint)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %v", c.maxAttempts, lastErr)
}
