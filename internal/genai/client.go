// Package genai drafts initiative analyses with an OpenAI-compatible chat
// completion endpoint, retrying transient failures with exponential backoff.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 1 << 20

// RetryConfig holds retry configuration for generation requests.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BackoffBase is the wait before the second attempt.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the wait on each further retry.
	BackoffMultiplier float64

	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
	}
}

// Result is a generated draft analysis.
type Result struct {
	BusinessValueScore         int    `json:"businessValueScore"`
	BusinessValueJustification string `json:"businessValueJustification"`
	StatementOfWork            string `json:"statementOfWork"`
	Model                      string `json:"-"`
	RequestID                  string `json:"-"`
}

func (r Result) validate() error {
	if r.BusinessValueScore < 1 || r.BusinessValueScore > 10 {
		return fmt.Errorf("score %d outside 1..10", r.BusinessValueScore)
	}
	if strings.TrimSpace(r.BusinessValueJustification) == "" {
		return errors.New("empty justification")
	}
	if strings.TrimSpace(r.StatementOfWork) == "" {
		return errors.New("empty statement of work")
	}
	return nil
}

// Client talks to a single chat-completions endpoint.
type Client struct {
	url         string
	model       string
	apiKey      string
	temperature float64
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

func WithAPIKey(key string) ClientOption {
	return func(client *Client) {
		client.apiKey = key
	}
}

// WithTimeout bounds each HTTP attempt. It keeps any client set by
// WithHTTPClient and only changes the timeout on a copy.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d <= 0 {
			return
		}
		hc := &http.Client{}
		if client.httpClient != nil {
			cp := *client.httpClient
			hc = &cp
		}
		hc.Timeout = d
		client.httpClient = hc
	}
}

// NewClient creates a client for baseURL (with or without the
// /chat/completions suffix) and model.
func NewClient(baseURL, model string, opts ...ClientOption) *Client {
	c := &Client{
		url:         buildURL(baseURL),
		model:       model,
		retryConfig: DefaultRetryConfig(),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryConfig.MaxAttempts < 1 {
		c.retryConfig.MaxAttempts = 1
	}
	return c
}

func buildURL(baseURL string) string {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return ""
	}
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// Generate asks the model for a draft analysis of idea. Every failure is
// returned as *UpstreamError.
func (c *Client) Generate(ctx context.Context, idea domain.Idea) (*Result, error) {
	if c == nil || c.url == "" {
		return nil, &UpstreamError{Attempts: 0, Err: ErrNotConfigured}
	}
	requestID := uuid.New().String()
	body, err := c.buildRequestBody(idea)
	if err != nil {
		return nil, &UpstreamError{Attempts: 0, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		res, err := c.doRequest(ctx, body)
		if err == nil {
			res.RequestID = requestID
			return res, nil
		}
		lastErr = err
		if IsFatal(err) {
			return nil, &UpstreamError{Attempts: attempt, Err: err}
		}
		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("generation failed, retrying",
				"request_id", requestID,
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, &UpstreamError{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}
	return nil, &UpstreamError{Attempts: c.retryConfig.MaxAttempts, Err: lastErr}
}

// calculateBackoff grows exponentially per attempt with +/-25% jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}
	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if c.retryConfig.MaxBackoff > 0 && backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) buildRequestBody(idea domain.Idea) ([]byte, error) {
	ideaJSON, err := json.MarshalIndent(idea, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal idea: %w", err)
	}
	req := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Analyze this HR initiative idea:\n" + string(ideaJSON)},
		},
	}
	return json.Marshal(req)
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewFatalError(ctx.Err())
		}
		return nil, NewTransientError(fmt.Errorf("http request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewTransientError(fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, NewTransientError(errors.New("response has no choices"))
	}
	content := ExtractJSON(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, NewTransientError(errors.New("response carries no JSON object"))
	}
	var res Result
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return nil, NewTransientError(fmt.Errorf("malformed result: %w", err))
	}
	if err := res.validate(); err != nil {
		return nil, NewTransientError(fmt.Errorf("malformed result: %w", err))
	}
	res.Model = parsed.Model
	return &res, nil
}

// classifyHTTPError treats rate limits and server errors as transient.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("generative API error (status %d): %s", statusCode, bodyStr)
	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}

const systemPrompt = `You assess HR initiative ideas for a product owner.
Score business value on this scale:
- 10-9 Critical: legal or compliance requirement.
- 8-7 Significant: value above £1m, or significant value to current operations, or reduces urgent tech debt.
- 6-5 High: value above £500k.
- 4-3 Medium: value above £250k.
- 2-1 Low: value below £250k.
Monetary values are given in thousands of pounds.
Reply with a single JSON object and nothing else:
{"businessValueScore": <integer 1-10>, "businessValueJustification": "<one or two sentences>", "statementOfWork": "<markdown statement of work with objective, business alignment, deliverables and expected outcomes>"}`
