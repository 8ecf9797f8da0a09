package chatbot

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ChatDesk/internal/backend"
	"ChatDesk/internal/config"
	"ChatDesk/internal/session"
)

// ErrMissingCredential is returned by Submit when no API key is configured.
var ErrMissingCredential = errors.New("no API key configured")

const (
	outcomeFulfilled = "fulfilled"
	outcomeFailed    = "failed"
)

// Completer performs one chat completion call.
type Completer interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (*backend.Completion, error)
}

type instruments struct {
	duration metric.Float64Histogram
	turns    metric.Int64Counter
	tokens   metric.Int64Counter
}

// ChatBot drives one conversation: it validates submissions, sends the
// history to the completion service and appends the outcome to the store.
type ChatBot struct {
	config config.Config
	store  *session.Store
	client Completer
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	inst   instruments
	out    io.Writer

	printer sync.Once

	mu    sync.Mutex
	draft string
}

type Option func(*ChatBot)

func WithLogger(logger *slog.Logger) Option {
	return func(cb *ChatBot) { cb.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(cb *ChatBot) { cb.tracer = tracer }
}

func WithMeter(meter metric.Meter) Option {
	return func(cb *ChatBot) { cb.meter = meter }
}

// WithCompleter replaces the OpenAI client built from the configuration.
func WithCompleter(c Completer) Option {
	return func(cb *ChatBot) { cb.client = c }
}

// WithOutput sets where Run prints the conversation. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(cb *ChatBot) { cb.out = w }
}

// WithStore lets the caller own the store, e.g. to subscribe before the first turn.
func WithStore(store *session.Store) Option {
	return func(cb *ChatBot) { cb.store = store }
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(cfg config.Config, opts ...Option) (*ChatBot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	cb := &ChatBot{
		config: cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("chatdesk/chatbot"),
		meter:  otel.Meter("chatdesk/chatbot"),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(cb)
	}
	if cb.store == nil {
		cb.store = session.NewStore()
	}
	if cb.client == nil {
		cb.client = backend.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.RequestTimeout.Duration, cb.logger)
	}

	var err error
	cb.inst.duration, err = cb.meter.Float64Histogram(
		"chat.request.duration",
		metric.WithDescription("Completion request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create duration histogram")
	}
	cb.inst.turns, err = cb.meter.Int64Counter(
		"chat.turns",
		metric.WithDescription("Settled turns by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create turn counter")
	}
	cb.inst.tokens, err = cb.meter.Int64Counter(
		"chat.usage.tokens",
		metric.WithDescription("Tokens reported by the completion service"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token counter")
	}

	cb.logger.Info("chatbot ready",
		"conversation_id", cb.store.ConversationID(),
		"model", cfg.Model,
		"credential", cfg.HasCredential(),
	)
	return cb, nil
}

func (cb *ChatBot) Store() *session.Store {
	return cb.store
}

func (cb *ChatBot) Messages() []session.Message {
	return cb.store.Messages()
}

func (cb *ChatBot) AwaitingResponse() bool {
	return cb.store.AwaitingResponse()
}

// SetDraft replaces the pending input buffer.
func (cb *ChatBot) SetDraft(text string) {
	cb.mu.Lock()
	cb.draft = text
	cb.mu.Unlock()
}

func (cb *ChatBot) Draft() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.draft
}

// SubmitDraft submits the pending input buffer.
func (cb *ChatBot) SubmitDraft(ctx context.Context) error {
	return cb.Submit(ctx, cb.Draft())
}

// Reset starts a new conversation and clears the pending input.
func (cb *ChatBot) Reset() {
	cb.store.Reset()
	cb.SetDraft("")
	cb.logger.Info("conversation reset", "conversation_id", cb.store.ConversationID())
}

// Submit sends text as the next user turn and blocks until the reply (or a
// failure description) has been appended to the history.
//
// Blank text, a missing credential and a request already in flight are
// rejected in that order with ErrInvalidInput, ErrMissingCredential and
// ErrAlreadyInFlight; nothing changes in those cases. Remote failures are not
// returned: they become an assistant message starting with "Error: ".
func (cb *ChatBot) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return session.ErrInvalidInput
	}
	if !cb.config.HasCredential() {
		cb.logger.Warn("submission ignored: no API key configured")
		return ErrMissingCredential
	}

	turn, err := cb.store.BeginTurn(text)
	if err != nil {
		cb.logger.Debug("submission rejected", "error", err)
		return err
	}
	cb.SetDraft("")

	reply := ""
	settled := false
	defer func() {
		if !settled {
			// Panic between BeginTurn and settle: never leave the flag set.
			cb.store.AbandonTurn(turn)
			return
		}
		if !cb.store.FinishTurn(turn, reply) {
			cb.logger.Info("reply dropped after reset", "conversation_id", turn.ConversationID)
		}
	}()

	ctx, span := cb.tracer.Start(ctx, "chat.submit", trace.WithAttributes(
		attribute.String("conversation.id", turn.ConversationID),
		attribute.Int("history.length", len(turn.Snapshot)),
		attribute.String("model", cb.config.Model),
	))
	defer span.End()

	start := time.Now()
	completion, err := cb.client.Complete(ctx, BuildRequest(cb.config.Model, turn.Snapshot))
	elapsed := time.Since(start)
	if err == nil && completion == nil {
		err = backend.ErrNoChoices
	}

	outcome := outcomeFulfilled
	if err != nil {
		outcome = outcomeFailed
		reply = "Error: " + backend.Describe(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, backend.Describe(err))
		cb.logger.Error("completion failed",
			"conversation_id", turn.ConversationID,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	} else {
		reply = completion.Content
		cb.recordUsage(ctx, completion.Usage)
		cb.logger.Info("completion received",
			"conversation_id", turn.ConversationID,
			"duration_ms", elapsed.Milliseconds(),
			"total_tokens", completion.Usage.TotalTokens,
		)
	}

	outcomeAttr := metric.WithAttributes(attribute.String("outcome", outcome))
	cb.inst.duration.Record(ctx, float64(elapsed.Milliseconds()), outcomeAttr)
	cb.inst.turns.Add(ctx, 1, outcomeAttr)
	span.SetAttributes(attribute.String("outcome", outcome))

	settled = true
	return nil
}

func (cb *ChatBot) recordUsage(ctx context.Context, usage backend.Usage) {
	if usage.TotalTokens == 0 {
		return
	}
	cb.inst.tokens.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(attribute.String("kind", "prompt")))
	cb.inst.tokens.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(attribute.String("kind", "completion")))
}
