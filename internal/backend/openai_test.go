package backend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
		Temperature: 0.7,
	}
}

func TestCompleteSendsWireFormat(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		assert.NoError(t, err)
		assert.Equal(t, "application/json", mediaType)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "Hello"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer server.Close()

	client := NewOpenAI("sk-test", server.URL, 0, quietLogger())
	got, err := client.Complete(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Hello", got.Content)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, got.Usage)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-6)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "Hi", first["content"])
}

func TestCompleteMinimalBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Hello"}}]}`))
	}))
	defer server.Close()

	got, err := NewOpenAI("k", server.URL, 0, quietLogger()).Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Content)
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := NewOpenAI("k", server.URL, 0, quietLogger()).Complete(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrNoChoices)
	assert.Equal(t, "response contained no choices", Describe(err))
}

func TestCompleteMissingContent(t *testing.T) {
	for _, body := range []string{
		`{"choices":[{}]}`,
		`{"choices":[{"message":{}}]}`,
		`{"choices":[{"message":{"content":null}}]}`,
		`{"choices":[{"message":null}]}`,
	} {
		t.Run(body, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			_, err := NewOpenAI("k", server.URL, 0, quietLogger()).Complete(context.Background(), testRequest())
			require.ErrorIs(t, err, ErrMissingContent)
			assert.Equal(t, "response is missing message content", Describe(err))
		})
	}
}

func TestCompleteAcceptsEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":""}}]}`))
	}))
	defer server.Close()

	got, err := NewOpenAI("k", server.URL, 0, quietLogger()).Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "", got.Content)
}

func TestCheckFirstChoice(t *testing.T) {
	require.NoError(t, checkFirstChoice([]byte(`{"choices":[{"message":{"content":"Hello"}}]}`)))
	require.ErrorIs(t, checkFirstChoice([]byte(`{}`)), ErrNoChoices)
	require.ErrorIs(t, checkFirstChoice([]byte(`{"choices":[{"message":{}}]}`)), ErrMissingContent)
	require.Error(t, checkFirstChoice([]byte(`{"choices":`)))
}

func TestCompleteStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"empty body", http.StatusInternalServerError, ``},
		{"api error body", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`},
		{"html body", http.StatusBadGateway, `<html>bad gateway</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewOpenAI("k", server.URL, 0, quietLogger()).Complete(context.Background(), testRequest())
			require.Error(t, err)
			assert.Equal(t, tt.status, StatusCode(err))
		})
	}
}

func TestCompleteMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := NewOpenAI("k", server.URL, 0, quietLogger()).Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.Zero(t, StatusCode(err))
	assert.NotEmpty(t, Describe(err))
}

func TestCompleteTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewOpenAI("k", url, 0, quietLogger()).Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.Zero(t, StatusCode(err))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "HTTP 500", Describe(&openai.RequestError{HTTPStatusCode: 500}))
	assert.Equal(t, "HTTP 429", Describe(errors.Wrap(&openai.APIError{HTTPStatusCode: 429}, "call")))
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}
