package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNoChoices is returned when a 2xx response carries no completion.
	ErrNoChoices = errors.New("response contained no choices")
	// ErrMissingContent is returned when the first choice has no message or
	// its content is absent or null.
	ErrMissingContent = errors.New("response is missing message content")
)

// Usage mirrors the token accounting returned by the service.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the text of the first choice plus response metadata.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// OpenAI talks to an OpenAI-compatible chat completions endpoint
type OpenAI struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI builds a client for baseURL (e.g. https://api.openai.com/v1).
// A zero timeout leaves requests unbounded.
func NewOpenAI(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &captureTransport{base: http.DefaultTransport},
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// Complete issues one chat completion call and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, req openai.ChatCompletionRequest) (*Completion, error) {
	body := &bytes.Buffer{}
	resp, err := o.client.CreateChatCompletion(context.WithValue(ctx, captureKey{}, body), req)
	if err != nil {
		o.logFailure(err)
		return nil, err
	}
	if err := checkFirstChoice(body.Bytes()); err != nil {
		o.logger.Error("completion body rejected", "error", err)
		return nil, err
	}

	return &Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// firstChoice keeps pointers so absent and null fields stay distinguishable
// from empty ones.
type firstChoice struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// checkFirstChoice verifies the raw success body carries
// choices[0].message.content as a string.
func checkFirstChoice(body []byte) error {
	var fc firstChoice
	if err := json.Unmarshal(body, &fc); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	if len(fc.Choices) == 0 {
		return ErrNoChoices
	}
	if fc.Choices[0].Message == nil || fc.Choices[0].Message.Content == nil {
		return ErrMissingContent
	}
	return nil
}

type captureKey struct{}

// captureTransport copies response bodies into the buffer stored in the
// request context under captureKey, if any.
type captureTransport struct {
	base http.RoundTripper
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if buf, ok := req.Context().Value(captureKey{}).(*bytes.Buffer); ok {
		resp.Body = teeBody{Reader: io.TeeReader(resp.Body, buf), Closer: resp.Body}
	}
	return resp, nil
}

type teeBody struct {
	io.Reader
	io.Closer
}

func (o *OpenAI) logFailure(err error) {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		o.logger.Error("completion API error",
			"status", apiErr.HTTPStatusCode,
			"type", apiErr.Type,
			"message", apiErr.Message,
		)
	case errors.As(err, &reqErr):
		o.logger.Error("completion request failed", "status", reqErr.HTTPStatusCode, "error", reqErr.Err)
	default:
		o.logger.Error("completion call failed", "error", err)
	}
}

// StatusCode extracts the HTTP status from a failed call, or 0 if the call
// never got a response.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Describe renders a failure as the human-readable cause shown to the user:
// "HTTP <code>" for non-success statuses, the error text otherwise.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if code := StatusCode(err); code != 0 {
		return fmt.Sprintf("HTTP %d", code)
	}
	return err.Error()
}
