// Package generator is the client for the external inference service that
// classifies a query and produces the persona-styled response. The service
// is a black box behind a narrow request/response contract.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mindbot/internal/model"
	"mindbot/internal/util"
)

var ErrEmptyQuery = errors.New("query is empty")

// Client calls the inference service's bot-response endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// swappable in tests
var httpNewRequest = defaultNewRequest
var httpDo = func(c *Client, req *http.Request) (*http.Response, error) { return c.httpClient.Do(req) }

func defaultNewRequest(ctx context.Context, method, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, url, nil)
}

// Generate asks the service for a reply to query. parentPost is the text
// of the post being replied to and may be empty for fresh posts. An empty
// query is rejected locally, never sent.
func (c *Client) Generate(ctx context.Context, query, parentPost string) (model.GeneratedReply, error) {
	var out model.GeneratedReply
	if util.NormalizeWhitespace(query) == "" {
		return out, ErrEmptyQuery
	}
	params := url.Values{}
	params.Set("query", query)
	if parentPost != "" {
		params.Set("tweet", parentPost)
	}
	req, err := httpNewRequest(ctx, http.MethodGet, c.baseURL+"/bot-response?"+params.Encode())
	if err != nil {
		return out, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpDo(c, req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("generator status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, err
	}
	if util.NormalizeWhitespace(out.Response) == "" {
		return out, errors.New("generator returned empty response")
	}
	return out, nil
}
