package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/conversation"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
)

// CallbackReply tells the pipeline whether its callback changed anything.
// A stale callback is acknowledged with 202 so it is not retried forever.
type CallbackReply struct {
	Applied bool `json:"applied"`
}

func (s *Server) handleTranscription(c *fiber.Ctx) error {
	var cb protocol.TranscriptionCallback
	if err := c.BodyParser(&cb); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("invalid callback body"))
	}
	applied, err := s.svc.RecordTranscription(c.UserContext(), cb)
	return s.callbackReply(c, "transcription", cb.RequestID, applied, err)
}

func (s *Server) handleResponse(c *fiber.Ctx) error {
	var cb protocol.ResponseCallback
	if err := c.BodyParser(&cb); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("invalid callback body"))
	}
	applied, err := s.svc.RecordResponse(c.UserContext(), cb)
	return s.callbackReply(c, "response", cb.RequestID, applied, err)
}

func (s *Server) handleFailure(c *fiber.Ctx) error {
	var cb protocol.FailureCallback
	if err := c.BodyParser(&cb); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("invalid callback body"))
	}
	applied, err := s.svc.RecordFailure(c.UserContext(), cb)
	return s.callbackReply(c, "failure", cb.RequestID, applied, err)
}

func (s *Server) callbackReply(c *fiber.Ctx, name, requestID string, applied bool, err error) error {
	if err != nil {
		if conversation.IsInvalidInput(err) {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody(err.Error()))
		}
		s.logger.Error("callback failed", "callback", name, "request_id", requestID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("callback could not be recorded"))
	}
	if !applied {
		return c.Status(fiber.StatusAccepted).JSON(CallbackReply{Applied: false})
	}
	return c.JSON(CallbackReply{Applied: true})
}

// handleExpire lets operators fail turns stuck in a conversation.
// ?olderThan accepts a Go duration; it defaults to the configured age.
func (s *Server) handleExpire(c *fiber.Ctx) error {
	olderThan := s.staleAfter
	if raw := c.Query("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody("olderThan must be a non-negative duration"))
		}
		olderThan = d
	}

	n, err := s.svc.ExpireStale(c.UserContext(), c.Params("conversationId"), olderThan)
	if err != nil {
		return c.Status(conversation.StatusCode(err)).JSON(errorBody(err.Error()))
	}
	return c.JSON(fiber.Map{"expired": n})
}
