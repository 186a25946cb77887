// Package websearch is the Tavily search collaborator. Results come back as
// a formatted text block ready to be fed into the agent's history.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/martinemde/autovest/backoff"
)

// Client calls the Tavily search API.
type Client struct {
	http   *resty.Client
	apiKey string
	retry  backoff.Policy
	log    *slog.Logger
}

// NewClient creates a search client.
func NewClient(apiKey string, retry backoff.Policy, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if retry.MaxRetries == 0 {
		retry = backoff.DefaultPolicy()
	}
	http := resty.New()
	http.SetBaseURL("https://api.tavily.com")
	http.SetTimeout(30 * time.Second)
	http.SetHeader("Content-Type", "application/json")
	return &Client{http: http, apiKey: apiKey, retry: retry, log: log}
}

// SetBaseURL points the client at a different host. Used in tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.http.SetBaseURL(baseURL)
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

// Search runs one query and formats the top results as Title/Content/URL
// blocks. An empty result set is reported as text, not an error, so the
// agent can react to it.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	c.log.Info("web search", "query", query)

	parsed, err := backoff.Retry(ctx, c.retry, func(ctx context.Context) (*searchResponse, error) {
		var out searchResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(searchRequest{
				APIKey:      c.apiKey,
				Query:       query,
				MaxResults:  3,
				SearchDepth: "advanced",
			}).
			SetResult(&out).
			Post("/search")
		if err != nil {
			return nil, fmt.Errorf("search request: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("search status %d: %s", resp.StatusCode(), resp.String())
		}
		return &out, nil
	})
	if err != nil {
		return "", err
	}

	if len(parsed.Results) == 0 {
		return "No search results found.", nil
	}

	var sb strings.Builder
	for _, r := range parsed.Results {
		fmt.Fprintf(&sb, "Title: %s\nContent: %s\nURL: %s\n\n", r.Title, r.Content, r.URL)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
