package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/internal/httpc"
)

// Headers understood by function gateways.
const (
	HeaderInvocationType = "X-Invocation-Type"
	HeaderFunctionError  = "X-Function-Error"

	invocationRequestResponse = "RequestResponse"
	invocationEvent           = "Event"
)

// HTTPConfig configures the HTTP function gateway invoker.
type HTTPConfig struct {
	// BaseURL is the gateway root; functions live at {BaseURL}/functions/{name}.
	BaseURL string

	// Client is the HTTP client. Defaults to httpc.Client, or an OAuth2
	// client when client credentials are configured.
	Client *http.Client

	// ClientID, ClientSecret, TokenURL and Scopes enable the OAuth2
	// client-credentials flow for outbound calls.
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// MaxRetries is the number of retries for transport errors, 429 and 503.
	MaxRetries int

	// RetryDelay is the base delay between retries; attempt n waits n*RetryDelay.
	RetryDelay time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultHTTPConfig returns an HTTPConfig with sensible defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// HTTPOption configures an HTTP invoker.
type HTTPOption func(*HTTPConfig)

// WithBaseURL sets the gateway root URL.
func WithBaseURL(u string) HTTPOption {
	return func(c *HTTPConfig) {
		c.BaseURL = u
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPConfig) {
		c.Client = client
	}
}

// WithClientCredentials enables OAuth2 client-credentials authentication.
func WithClientCredentials(clientID, clientSecret, tokenURL string, scopes ...string) HTTPOption {
	return func(c *HTTPConfig) {
		c.ClientID = clientID
		c.ClientSecret = clientSecret
		c.TokenURL = tokenURL
		c.Scopes = scopes
	}
}

// WithRetries sets the retry budget and base delay.
func WithRetries(max int, delay time.Duration) HTTPOption {
	return func(c *HTTPConfig) {
		c.MaxRetries = max
		c.RetryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPConfig) {
		c.Logger = logger
	}
}

// Validate checks the configuration for required fields.
func (c *HTTPConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("invoke: base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invoke: invalid base URL: %w", err)
	}
	if c.ClientID != "" && c.TokenURL == "" {
		return errors.New("invoke: token URL is required with client credentials")
	}
	if c.MaxRetries < 0 {
		return errors.New("invoke: max retries must not be negative")
	}
	return nil
}

// HTTP invokes functions exposed by an HTTP gateway.
type HTTP struct {
	config *HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP invoker.
func NewHTTP(opts ...HTTPOption) (*HTTP, error) {
	cfg := DefaultHTTPConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.Client
	if client == nil {
		client = httpc.Client
	}
	if cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// The token source fetches tokens with the base client.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		authed := cc.Client(ctx)
		authed.Timeout = client.Timeout
		client = authed
	}

	return &HTTP{
		config: cfg,
		client: client,
		logger: cfg.Logger.With("component", "invoke.HTTP"),
	}, nil
}

// Invoke POSTs payload to {BaseURL}/functions/{function}.
func (h *HTTP) Invoke(ctx context.Context, function string, payload any, mode Mode) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invoke: marshal payload for %s: %w", function, err)
	}

	endpoint := strings.TrimRight(h.config.BaseURL, "/") + "/functions/" + url.PathEscape(function)
	invocationType := invocationRequestResponse
	retries := h.config.MaxRetries
	if mode == ModeAsync {
		invocationType = invocationEvent
		// The event may be queued even when the reply is lost, so it is sent once.
		retries = 0
	}

	start := time.Now()
	status, header, respBody, err := h.doWithRetry(ctx, function, endpoint, invocationType, body, retries)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("function invoked",
		"function", function,
		"mode", mode,
		"status", status,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if errType := header.Get(HeaderFunctionError); errType != "" {
		return nil, parseFunctionError(function, errType, status, respBody)
	}

	if mode == ModeAsync {
		if status < 200 || status >= 300 {
			fe := parseFunctionError(function, "", status, respBody)
			if fe.Message == "unknown error" {
				fe.Message = fmt.Sprintf("async invocation not accepted (status %d)", status)
			}
			return nil, fe
		}
		return nil, nil
	}

	return &Result{StatusCode: status, Body: respBody}, nil
}

// doWithRetry performs the request, retrying up to retries more times.
func (h *HTTP) doWithRetry(ctx context.Context, function, endpoint, invocationType string, body []byte, retries int) (int, http.Header, []byte, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, nil, unreachable(function, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr))
			case <-time.After(h.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return 0, nil, nil, fmt.Errorf("invoke: build request for %s: %w", function, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderInvocationType, invocationType)

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return 0, nil, nil, unreachable(function, err)
			}
			h.logger.Warn("retrying request",
				"function", function,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		// Check if retryable
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) &&
			attempt < retries {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			h.logger.Warn("retrying request",
				"function", function,
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp.StatusCode, resp.Header, respBody, nil
	}

	return 0, nil, nil, unreachable(function, fmt.Errorf("max retries exceeded: %w", lastErr))
}
