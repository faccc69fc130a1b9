// Package api exposes the conversation orchestrator over HTTP and websockets.
package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/blob"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/conversation"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/hub"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/metrics"
)

// CallbackTokenHeader carries the shared secret on pipeline callbacks.
const CallbackTokenHeader = "X-Callback-Token"

// Config configures a Server.
type Config struct {
	// Service runs the conversation operations. Required.
	Service conversation.Service

	// Hub delivers events to websocket subscribers. Required.
	Hub *hub.Hub

	// Blobs, when set, is served under /blobs/* for signed URLs it issued.
	Blobs *blob.Memory

	// CallbackToken protects the callback and operator routes when set.
	CallbackToken string

	// StaleAfter is the default age for the expire route.
	StaleAfter time.Duration

	// Version is reported by /health.
	Version string

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	svc           conversation.Service
	hub           *hub.Hub
	blobs         *blob.Memory
	callbackToken string
	staleAfter    time.Duration
	version       string
	logger        *slog.Logger
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("api: service is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("api: hub is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		svc:           cfg.Service,
		hub:           cfg.Hub,
		blobs:         cfg.Blobs,
		callbackToken: cfg.CallbackToken,
		staleAfter:    cfg.StaleAfter,
		version:       cfg.Version,
		logger:        cfg.Logger.With("component", "api.Server"),
	}, nil
}

// NewApp creates a Fiber app with the service's middleware stack.
func NewApp(name string, debug bool) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
		BodyLimit:             16 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization," + CallbackTokenHeader,
	}))
	if debug {
		app.Use(logger.New())
	}
	return app
}

// RegisterRoutes registers every route on app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	s.registerSubscriptionRoutes(app)

	app.Post("/voice/process", s.handleSubmit)

	app.Get("/conversations", s.handleListConversations)
	app.Get("/conversations/:conversationId/messages", s.handleListMessages)
	app.Post("/conversations/:conversationId/expire", s.requireCallbackToken, s.handleExpire)

	callbacks := app.Group("/callbacks", s.requireCallbackToken)
	callbacks.Post("/transcription", s.handleTranscription)
	callbacks.Post("/response", s.handleResponse)
	callbacks.Post("/failure", s.handleFailure)

	if s.blobs != nil {
		app.Get("/blobs/*", s.handleBlob)
	}

	app.Get("/health", s.handleHealth)

	promHandler := adaptor.HTTPHandler(metrics.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metrics.SetSubscribers(s.hub.ClientCount())
		return promHandler(c)
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"version":     s.version,
		"subscribers": s.hub.ClientCount(),
		"topics":      s.hub.TopicCount(),
		"hub":         s.hub.Stats(),
	})
}

// requireCallbackToken rejects requests without the shared secret when one
// is configured.
func (s *Server) requireCallbackToken(c *fiber.Ctx) error {
	if s.callbackToken == "" {
		return c.Next()
	}
	got := c.Get(CallbackTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.callbackToken)) != 1 {
		s.logger.Warn("rejected callback", "path", c.Path(), "ip", c.IP())
		return fiber.NewError(fiber.StatusUnauthorized, "invalid callback token")
	}
	return c.Next()
}

// errorHandler renders every error as {status:"ERROR", message}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(errorBody(err.Error()))
}

func errorBody(message string) fiber.Map {
	return fiber.Map{"status": "ERROR", "message": message}
}
