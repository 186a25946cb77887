// Package llmclient is the adapter for the chat-completion endpoint the
// agent reasons with. It owns the transport, the retry policy, and the
// optional live-search augmentation; callers get back text or a typed error
// and never see HTTP details.
package llmclient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/martinemde/autovest/backoff"
)

const systemPrompt = "You are a highly intelligent, helpful AI assistant. " +
	"Return only valid JSON responses in the exact format requested."

// Options configures a completion Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retry       backoff.Policy
	Logger      *slog.Logger
}

// Client talks to a Grok-style chat-completions endpoint.
type Client struct {
	http   *resty.Client
	model  string
	temp   float64
	tokens int
	retry  backoff.Policy
	log    *slog.Logger
}

// New creates a completion client. The retry policy's Retryable hook is
// forced to the client's own error taxonomy.
func New(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = "grok-4-0709"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = backoff.DefaultPolicy()
	}
	opts.Retry.Retryable = IsRetryable

	http := resty.New()
	http.SetBaseURL(opts.BaseURL)
	http.SetTimeout(opts.Timeout)
	http.SetAuthToken(opts.APIKey)
	http.SetHeader("Content-Type", "application/json")

	c := &Client{
		http:   http,
		model:  opts.Model,
		temp:   opts.Temperature,
		tokens: opts.MaxTokens,
		retry:  opts.Retry,
		log:    opts.Logger,
	}
	// Set once here; Complete must not mutate shared client state.
	c.retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		c.log.Warn("completion call failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)
	}
	return c
}

// Completion is the result of one completion call. Citations and SourceCount
// are populated only for live-search calls and are observability metadata,
// not part of the decision contract.
type Completion struct {
	Text        string
	Citations   []string
	SourceCount int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchParameters struct {
	Mode            string `json:"mode"`
	ReturnCitations bool   `json:"return_citations"`
}

type chatRequest struct {
	Messages         []chatMessage     `json:"messages"`
	Model            string            `json:"model"`
	Stream           bool              `json:"stream"`
	Temperature      float64           `json:"temperature"`
	MaxTokens        int               `json:"max_tokens"`
	SearchParameters *searchParameters `json:"search_parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     struct {
		NumSourcesUsed int `json:"num_sources_used"`
	} `json:"usage"`
}

// Complete sends a prompt and returns the raw response text. When augment is
// set, the endpoint's native live search is enabled for the call.
func (c *Client) Complete(ctx context.Context, prompt string, augment bool) (*Completion, error) {
	result, err := backoff.Retry(ctx, c.retry, func(ctx context.Context) (*Completion, error) {
		return c.complete(ctx, prompt, augment)
	})
	if err != nil {
		return nil, err
	}

	if augment {
		c.log.Info("live search completion",
			"citations", len(result.Citations), "sources", result.SourceCount)
	}
	return result, nil
}

func (c *Client) complete(ctx context.Context, prompt string, augment bool) (*Completion, error) {
	req := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Model:       c.model,
		Temperature: c.temp,
		MaxTokens:   c.tokens,
	}
	if augment {
		req.SearchParameters = &searchParameters{Mode: "on", ReturnCitations: true}
	}

	var parsed chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&parsed).
		Post("/chat/completions")
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &RequestTimeoutError{ClientError{Message: "completion request timed out", Cause: err}}
		}
		return nil, &NetworkError{ClientError{Message: "completion request failed", Cause: err}}
	}
	if resp.StatusCode() != 200 {
		return nil, errorFromStatusCode(resp.StatusCode(), resp.String())
	}

	if len(parsed.Choices) == 0 {
		return nil, &EmptyResponseError{ClientError{Message: "completion response contained no choices"}}
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return nil, &EmptyResponseError{ClientError{Message: "completion response was empty"}}
	}

	return &Completion{
		Text:        text,
		Citations:   parsed.Citations,
		SourceCount: parsed.Usage.NumSourcesUsed,
	}, nil
}
