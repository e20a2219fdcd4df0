// Package safety screens sensitive nudge content before delivery.
//
// Nudges synthesized from triggers marked sensitive (stress spikes, lapse
// recovery) pass through a screener so the pipeline never pushes content
// that could read as judgmental or harmful in a vulnerable moment.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = `You review short behavioral health nudges before they are sent to users who may be stressed or recovering from a lapse. Reply with exactly one word: ALLOW if the message is supportive and safe to send, or BLOCK if it could read as judgmental, shaming, triggering, or otherwise harmful.`

// Screener decides whether a piece of nudge content may be delivered.
type Screener interface {
	// Screen returns true when the content is safe to send.
	Screen(ctx context.Context, content string) (bool, error)
}

// Opts holds configuration options for the OpenAI-backed screener.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the screener.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default screening model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// OpenAIScreener screens content through an OpenAI chat completion.
type OpenAIScreener struct {
	client openai.Client
	model  string
}

// NewOpenAIScreener creates a screener, falling back to the OPENAI_API_KEY
// environment variable when no key option is given.
func NewOpenAIScreener(opts ...Option) (*OpenAIScreener, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key must be provided")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	slog.Debug("OpenAIScreener created", "model", cfg.Model)
	return &OpenAIScreener{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// Screen asks the model for an ALLOW or BLOCK verdict. Any answer that is
// not an explicit BLOCK counts as allowed.
func (s *OpenAIScreener) Screen(ctx context.Context, content string) (bool, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(content),
		},
	})
	if err != nil {
		return false, fmt.Errorf("screening request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("screening response had no choices")
	}
	verdict := strings.TrimSpace(strings.ToUpper(resp.Choices[0].Message.Content))
	blocked := strings.HasPrefix(verdict, "BLOCK")
	slog.Debug("OpenAIScreener verdict", "blocked", blocked)
	return !blocked, nil
}

// AllowAll is a screener that approves everything. It is the default when
// no OpenAI key is configured.
type AllowAll struct{}

func (AllowAll) Screen(ctx context.Context, content string) (bool, error) {
	return true, nil
}

// MockScreener returns canned verdicts for tests. Content present in
// Blocked is rejected; Err, when set, is returned for every call.
type MockScreener struct {
	Blocked map[string]bool
	Err     error
}

func (m *MockScreener) Screen(ctx context.Context, content string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return !m.Blocked[content], nil
}
