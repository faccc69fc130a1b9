// Package config loads the voice API configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendS3       = "s3"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendLambda   = "lambda"
	BackendHTTP     = "http"
)

// Defaults.
const (
	DefaultPort                    = "8080"
	DefaultRegion                  = "us-east-1"
	DefaultAudioBucket             = "voice-assistant-audio-storage"
	DefaultConversationTable       = "VoiceAssistantConversations"
	DefaultConversationUserIndex   = "UserIdIndex"
	DefaultVoiceProcessingFunction = "VoiceProcessingLambda"
	DefaultRedisAddr               = "localhost:6379"
	DefaultRedisPrefix             = "voice"
	DefaultInvokeTimeout           = 10 * time.Second
	DefaultSignedURLTTL            = time.Hour
)

// Service holds everything cmd/voice-api needs to wire the server.
type Service struct {
	Port     string
	Debug    bool
	LogLevel string

	AWSRegion string

	BlobBackend    string
	AudioBucket    string
	BlobSigningKey string
	PublicBaseURL  string

	StoreBackend          string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisPrefix           string
	ConversationTable     string
	ConversationUserIndex string

	InvokerBackend          string
	VoiceProcessingFunction string
	ResponseFunction        string
	FunctionsBaseURL        string
	FunctionsClientID       string
	FunctionsClientSecret   string
	FunctionsTokenURL       string
	InvokeTimeout           time.Duration

	SignedURLTTL  time.Duration
	NotifyRedis   bool
	CallbackToken string
	StaleAfter    time.Duration
}

// LoadDotEnv loads the given .env files (".env" when none are named).
// Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads .env files, then the environment, and validates the result.
func Load(files ...string) (*Service, error) {
	if err := LoadDotEnv(files...); err != nil {
		return nil, err
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Service from environment variables without validating it.
func FromEnv() *Service {
	return &Service{
		Port:     String("PORT", DefaultPort),
		Debug:    Bool("DEBUG", false),
		LogLevel: String("LOG_LEVEL", "info"),

		AWSRegion: String("AWS_REGION", DefaultRegion),

		BlobBackend:    String("BLOB_BACKEND", BackendMemory),
		AudioBucket:    String("AUDIO_BUCKET", DefaultAudioBucket),
		BlobSigningKey: String("BLOB_SIGNING_KEY", ""),
		PublicBaseURL:  String("PUBLIC_BASE_URL", ""),

		StoreBackend:          String("STORE_BACKEND", BackendMemory),
		RedisAddr:             String("REDIS_ADDR", DefaultRedisAddr),
		RedisPassword:         String("REDIS_PASSWORD", ""),
		RedisDB:               Int("REDIS_DB", 0),
		RedisPrefix:           String("REDIS_PREFIX", DefaultRedisPrefix),
		ConversationTable:     String("CONVERSATION_TABLE", DefaultConversationTable),
		ConversationUserIndex: String("CONVERSATION_USER_INDEX", DefaultConversationUserIndex),

		InvokerBackend:          String("INVOKER_BACKEND", BackendLambda),
		VoiceProcessingFunction: String("VOICE_PROCESSING_FUNCTION", DefaultVoiceProcessingFunction),
		ResponseFunction:        String("RESPONSE_FUNCTION", ""),
		FunctionsBaseURL:        String("FUNCTIONS_BASE_URL", ""),
		FunctionsClientID:       String("FUNCTIONS_CLIENT_ID", ""),
		FunctionsClientSecret:   String("FUNCTIONS_CLIENT_SECRET", ""),
		FunctionsTokenURL:       String("FUNCTIONS_TOKEN_URL", ""),
		InvokeTimeout:           Duration("INVOKE_TIMEOUT", DefaultInvokeTimeout),

		SignedURLTTL:  Duration("SIGNED_URL_TTL", DefaultSignedURLTTL),
		NotifyRedis:   Bool("NOTIFY_REDIS", false),
		CallbackToken: String("CALLBACK_TOKEN", ""),
		StaleAfter:    Duration("STALE_AFTER", 0),
	}
}

// Validate checks backend names and the settings each backend requires.
func (s *Service) Validate() error {
	if s.Port == "" {
		return errors.New("config: PORT is required")
	}

	switch s.BlobBackend {
	case BackendMemory:
	case BackendS3:
		if s.AudioBucket == "" {
			return errors.New("config: AUDIO_BUCKET is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("config: unknown BLOB_BACKEND %q", s.BlobBackend)
	}

	switch s.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if s.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR is required for the redis store")
		}
	case BackendDynamoDB:
		if s.ConversationTable == "" {
			return errors.New("config: CONVERSATION_TABLE is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", s.StoreBackend)
	}

	switch s.InvokerBackend {
	case BackendLambda:
	case BackendHTTP:
		if s.FunctionsBaseURL == "" {
			return errors.New("config: FUNCTIONS_BASE_URL is required for the http invoker")
		}
		if (s.FunctionsClientID == "") != (s.FunctionsClientSecret == "") {
			return errors.New("config: FUNCTIONS_CLIENT_ID and FUNCTIONS_CLIENT_SECRET must be set together")
		}
		if s.FunctionsClientID != "" && s.FunctionsTokenURL == "" {
			return errors.New("config: FUNCTIONS_TOKEN_URL is required with client credentials")
		}
	default:
		return fmt.Errorf("config: unknown INVOKER_BACKEND %q", s.InvokerBackend)
	}

	if s.VoiceProcessingFunction == "" {
		return errors.New("config: VOICE_PROCESSING_FUNCTION is required")
	}
	if s.NotifyRedis && s.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR is required when NOTIFY_REDIS is set")
	}
	if s.InvokeTimeout <= 0 {
		return errors.New("config: INVOKE_TIMEOUT must be positive")
	}
	if s.SignedURLTTL <= 0 {
		return errors.New("config: SIGNED_URL_TTL must be positive")
	}
	if s.StaleAfter < 0 {
		return errors.New("config: STALE_AFTER must not be negative")
	}
	return nil
}
