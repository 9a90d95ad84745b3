package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"mindbot/internal/util"
)

// MaxTweetRunes is the platform's character limit per post.
const MaxTweetRunes = 280

type createTweetBody struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
}

// PostTweet publishes a fresh post and returns its id. Input guards run
// locally; violating text never reaches the network.
func (c *HTTPClient) PostTweet(ctx context.Context, text string) (string, error) {
	if err := checkText(text); err != nil {
		return "", err
	}
	return c.createTweet(ctx, createTweetBody{Text: text})
}

// PostReply publishes a reply to inReplyTo and returns the new reply's id.
func (c *HTTPClient) PostReply(ctx context.Context, inReplyTo, text string) (string, error) {
	if err := checkText(text); err != nil {
		return "", err
	}
	if inReplyTo == "" {
		return "", errors.New("empty reply target id")
	}
	body := createTweetBody{Text: text}
	body.Reply = &struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	}{InReplyToTweetID: inReplyTo}
	return c.createTweet(ctx, body)
}

func checkText(text string) error {
	if util.NormalizeWhitespace(text) == "" {
		return ErrEmptyText
	}
	if util.RuneLen(text) > MaxTweetRunes {
		return ErrTextTooLong
	}
	return nil
}

// createTweet is the write path: serialized, single attempt, fail fast
// with a structured error. Retrying a write behind a scheduler tick risks
// a duplicate post, so backoff is the read path's business only.
func (c *HTTPClient) createTweet(ctx context.Context, body createTweetBody) (string, error) {
	if c.signer == nil {
		return "", errors.New("write credentials not configured")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	u := c.baseURL + "/tweets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.signer.sign(req, nil)
	if err := c.limiter.Wait(ctx); err != nil { return "", err }
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &APIError{StatusCode: resp.StatusCode, Detail: string(detail)}
	}
	var raw struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", err
	}
	if raw.Data.ID == "" {
		return "", errors.New("create tweet returned no id")
	}
	return raw.Data.ID, nil
}
