package conversation

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

// Default configuration values.
const (
	DefaultProcessingFunction = "VoiceProcessingLambda"
	DefaultInvokeTimeout      = 10 * time.Second
	DefaultSignedURLTTL       = time.Hour
)

// Config holds configuration for the Orchestrator.
type Config struct {
	// ProcessingFunction is the remote function that starts transcription
	// for a submitted recording. It is invoked synchronously.
	ProcessingFunction string

	// ResponseFunction, when set, is invoked asynchronously once a turn is
	// transcribed to generate and synthesize the reply.
	ResponseFunction string

	// InvokeTimeout bounds the synchronous processing invocation.
	InvokeTimeout time.Duration

	// SignedURLTTL is the lifetime of audio URLs handed to clients.
	SignedURLTTL time.Duration

	// InputContentType and OutputContentType are recorded with stored audio.
	InputContentType  string
	OutputContentType string

	// Clock issues turn timestamps. Nil uses a wall clock.
	Clock *turn.Clock

	// NewID generates request and conversation ids.
	NewID func() string

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProcessingFunction: DefaultProcessingFunction,
		InvokeTimeout:      DefaultInvokeTimeout,
		SignedURLTTL:       DefaultSignedURLTTL,
		InputContentType:   "audio/wav",
		OutputContentType:  "audio/mpeg",
		NewID:              uuid.NewString,
		Logger:             slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	switch {
	case c.ProcessingFunction == "":
		return ErrMissingFunction
	case c.InvokeTimeout <= 0:
		return ErrInvalidConfig
	case c.SignedURLTTL <= 0:
		return ErrInvalidConfig
	case c.NewID == nil:
		return ErrInvalidConfig
	}
	return nil
}

// Option is a functional option for configuring the Orchestrator.
type Option func(*Config)

// WithProcessingFunction sets the transcription entry point.
func WithProcessingFunction(name string) Option {
	return func(c *Config) {
		c.ProcessingFunction = name
	}
}

// WithResponseFunction enables async response generation after transcription.
func WithResponseFunction(name string) Option {
	return func(c *Config) {
		c.ResponseFunction = name
	}
}

// WithInvokeTimeout sets the synchronous invocation timeout.
func WithInvokeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.InvokeTimeout = d
	}
}

// WithSignedURLTTL sets the lifetime of audio URLs.
func WithSignedURLTTL(d time.Duration) Option {
	return func(c *Config) {
		c.SignedURLTTL = d
	}
}

// WithClock sets the timestamp source.
func WithClock(clock *turn.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithIDGenerator overrides uuid-based id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Config) {
		c.NewID = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
