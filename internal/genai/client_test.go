package genai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain"
	"ideaflow/internal/genai"
)

var fastRetry = genai.RetryConfig{
	MaxAttempts:       3,
	BackoffBase:       time.Millisecond,
	BackoffMultiplier: 2,
	MaxBackoff:        5 * time.Millisecond,
}

func completion(content string) map[string]any {
	return map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completion("Here you go:\n```json\n{\"businessValueScore\": 7, \"businessValueJustification\": \"Reduces tech debt.\", \"statementOfWork\": \"**SoW**\",}\n```"))
	}))
	defer server.Close()

	client := genai.NewClient(server.URL+"/v1", "test-model", genai.WithAPIKey("secret"), genai.WithRetryConfig(fastRetry))
	res, err := client.Generate(context.Background(), domain.Idea{Title: "x", IdeaDescription: "y", BusinessObjective: "Capacity"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.BusinessValueScore)
	assert.Equal(t, "Reduces tech debt.", res.BusinessValueJustification)
	assert.Equal(t, "**SoW**", res.StatementOfWork)
	assert.Equal(t, "test-model", res.Model)
	assert.NotEmpty(t, res.RequestID)
}

func TestGenerate_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(completion(`{"businessValueScore": 4, "businessValueJustification": "ok", "statementOfWork": "sow"}`))
	}))
	defer server.Close()

	client := genai.NewClient(server.URL, "m", genai.WithRetryConfig(fastRetry))
	res, err := client.Generate(context.Background(), domain.Idea{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.BusinessValueScore)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := genai.NewClient(server.URL, "m", genai.WithRetryConfig(fastRetry))
	_, err := client.Generate(context.Background(), domain.Idea{})
	var upstream *genai.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 3, upstream.Attempts)
	assert.True(t, genai.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerate_FatalIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := genai.NewClient(server.URL, "m", genai.WithRetryConfig(fastRetry))
	_, err := client.Generate(context.Background(), domain.Idea{})
	require.Error(t, err)
	assert.True(t, genai.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_MalformedResultIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(completion(`{"businessValueScore": 42, "businessValueJustification": "x", "statementOfWork": "y"}`))
	}))
	defer server.Close()

	client := genai.NewClient(server.URL, "m", genai.WithRetryConfig(fastRetry))
	_, err := client.Generate(context.Background(), domain.Idea{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside 1..10")
	assert.Equal(t, int32(3), calls.Load())
}

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

func TestWithTimeout_KeepsCustomHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completion(`{"businessValueScore": 5, "businessValueJustification": "ok", "statementOfWork": "sow"}`))
	}))
	defer server.Close()

	transport := &countingTransport{next: http.DefaultTransport}
	custom := &http.Client{Transport: transport}
	client := genai.NewClient(server.URL, "m",
		genai.WithHTTPClient(custom),
		genai.WithTimeout(2*time.Second),
		genai.WithRetryConfig(fastRetry))
	res, err := client.Generate(context.Background(), domain.Idea{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.BusinessValueScore)
	assert.Equal(t, int32(1), transport.calls.Load())
	assert.Zero(t, custom.Timeout, "caller's client must not be modified")
}

func TestGenerate_NotConfigured(t *testing.T) {
	client := genai.NewClient("", "m")
	_, err := client.Generate(context.Background(), domain.Idea{})
	assert.ErrorIs(t, err, genai.ErrNotConfigured)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, genai.ExtractJSON("noise {\"a\": 1} trailing"))
	assert.Equal(t, `{"a": "http://x"}`, genai.ExtractJSON("```json\n{\"a\": \"http://x\", // note\n}\n```"))
	assert.Equal(t, "", genai.ExtractJSON("no json here"))
}
