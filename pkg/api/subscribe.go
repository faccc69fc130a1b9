package api

import (
	"net/url"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/blob"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/hub"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/notify"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
)

// registerSubscriptionRoutes registers the websocket subscription routes.
func (s *Server) registerSubscriptionRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Dashboard subscription: the user's topic plus, optionally, one conversation.
	app.Get("/ws", s.requireUser, websocket.New(s.handleSubscribe))

	// Live view of one conversation.
	app.Get("/ws/conversations/:id", websocket.New(s.handleSubscribe))
}

func (s *Server) requireUser(c *fiber.Ctx) error {
	if c.Query("userId") == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("userId is required"))
	}
	return c.Next()
}

// handleSubscribe registers the connection with the hub and pumps events
// to it until it closes.
func (s *Server) handleSubscribe(c *websocket.Conn) {
	userID := c.Query("userId")
	conversationID := c.Params("id")
	if conversationID == "" {
		conversationID = c.Query("conversationId")
	}

	var topics []string
	if userID != "" {
		topics = append(topics, string(notify.UserTopic(userID)))
	}
	if conversationID != "" {
		topics = append(topics, string(notify.ConversationTopic(conversationID)))
	}

	sessionID := uuid.NewString()
	logger := s.logger.With("session_id", sessionID, "user_id", userID, "conversation_id", conversationID)

	client := hub.NewClient(s.hub, c, sessionID, topics...)
	hello, err := protocol.Encode(protocol.NewConnected(sessionID, userID, conversationID, time.Now().UnixMilli()))
	if err == nil {
		client.Enqueue(hub.NewJSONMessage(hello))
	}

	if err := client.Register(); err != nil {
		logger.Warn("subscription rejected", "error", err)
		c.Close()
		return
	}
	logger.Debug("subscriber connected", "topics", topics)

	client.Run()
	logger.Debug("subscriber disconnected")
}

// handleBlob serves objects from the in-memory blob store behind the
// signed URLs it issued.
func (s *Server) handleBlob(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil || key == "" {
		return fiber.ErrNotFound
	}
	if err := s.blobs.Verify(key, c.Query("expires"), c.Query("signature")); err != nil {
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	}

	obj, err := s.blobs.Object(c.UserContext(), key)
	if err != nil {
		if blob.IsNotFound(err) {
			return fiber.ErrNotFound
		}
		return err
	}
	c.Set(fiber.HeaderContentType, obj.ContentType)
	c.Set(fiber.HeaderCacheControl, "private, max-age=300")
	return c.Send(obj.Data)
}
