// Package llm relays visitor questions to a generative text model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"exovision/logger"
)

const persona = "You are an expert on exoplanets. Answer clearly and concisely in plain text without markdown: "

var (
	ErrEmptyMessage  = errors.New("message is required")
	ErrNotConfigured = errors.New("chat provider not configured")
)

var (
	markdownChars = regexp.MustCompile("[*_`#>-]")
	blankLines    = regexp.MustCompile(`\n{2,}`)
)

// ChatProvider answers a single visitor message.
type ChatProvider interface {
	Chat(ctx context.Context, message string) (string, error)
}

// Generator sends a finished prompt to a model backend.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// BuildPrompt wraps the message in the exoplanet-expert instructions.
func BuildPrompt(message string) string {
	return persona + message
}

// Sanitize strips markdown characters and collapses blank lines.
func Sanitize(reply string) string {
	reply = markdownChars.ReplaceAllString(reply, "")
	reply = blankLines.ReplaceAllString(reply, "\n")
	return strings.TrimSpace(reply)
}

// Relay is the ChatProvider used by the web layer.
type Relay struct {
	gen     Generator
	timeout time.Duration
	log     *zap.Logger
}

// NewRelay wraps a generator. A zero timeout means no per-call deadline.
func NewRelay(gen Generator, timeout time.Duration) *Relay {
	return &Relay{
		gen:     gen,
		timeout: timeout,
		log:     logger.L().With(zap.String("component", "chat"), zap.String("provider", gen.Name())),
	}
}

func (r *Relay) Chat(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := r.gen.Generate(ctx, BuildPrompt(message))
	if err != nil {
		r.log.Warn("generation failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return "", fmt.Errorf("%s: %w", r.gen.Name(), err)
	}
	reply := Sanitize(text)
	r.log.Debug("chat answered",
		zap.Int("message_len", len(message)),
		zap.Int("reply_len", len(reply)),
		zap.Duration("elapsed", time.Since(start)))
	return reply, nil
}

// Options configure New.
type Options struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	MaxTokens int
}

// New builds the relay for the configured provider. "none" yields a relay
// that always fails with ErrNotConfigured.
func New(ctx context.Context, opts Options) (*Relay, error) {
	var (
		gen Generator
		err error
	)
	switch opts.Provider {
	case "", "gemini":
		gen, err = NewGemini(ctx, opts)
	case "openai", "deepseek":
		gen, err = NewOpenAICompatible(opts)
	case "none":
		gen = disabled{}
	default:
		return nil, fmt.Errorf("unknown chat provider %q", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewRelay(gen, opts.Timeout), nil
}

type disabled struct{}

func (disabled) Generate(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

func (disabled) Name() string {
	return "none"
}
