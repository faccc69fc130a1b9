package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/conversation"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

// SubmitBody is the POST /voice/process request.
type SubmitBody struct {
	AudioData      string `json:"audioData"`
	UserID         string `json:"userId"`
	SessionID      string `json:"sessionId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// SubmitReply is the POST /voice/process response.
type SubmitReply struct {
	RequestID           string `json:"requestId,omitempty"`
	ConversationID      string `json:"conversationId,omitempty"`
	Status              string `json:"status"`
	Message             string `json:"message"`
	TranscriptionJobRef string `json:"transcriptionJobRef,omitempty"`
}

// Message is one turn as returned by the messages route.
type Message struct {
	turn.Turn
	AudioURL string `json:"audioUrl,omitempty"`
}

func (s *Server) handleSubmit(c *fiber.Ctx) error {
	var body SubmitBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("invalid request body"))
	}

	res, err := s.svc.SubmitAudio(c.UserContext(), conversation.SubmitRequest{
		UserID:         body.UserID,
		SessionID:      body.SessionID,
		ConversationID: body.ConversationID,
		AudioBase64:    body.AudioData,
	})
	if err != nil {
		status := conversation.StatusCode(err)
		message := err.Error()
		var upErr *conversation.UpstreamError
		if errors.As(err, &upErr) && upErr.Message != "" {
			message = upErr.Message
		}
		if status >= 500 {
			s.logger.Error("voice submission failed", "user_id", body.UserID, "status", status, "error", err)
		}
		return c.Status(status).JSON(SubmitReply{
			RequestID:      res.RequestID,
			ConversationID: res.ConversationID,
			Status:         string(turn.StatusError),
			Message:        message,
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitReply{
		RequestID:           res.RequestID,
		ConversationID:      res.ConversationID,
		Status:              string(turn.StatusProcessing),
		Message:             "Voice processing started",
		TranscriptionJobRef: res.TranscriptionJobRef,
	})
}

func (s *Server) handleListMessages(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("userId is required"))
	}
	conversationID := c.Params("conversationId")

	turns, err := s.svc.ListConversationTurns(c.UserContext(), conversationID)
	if err != nil {
		return c.Status(conversation.StatusCode(err)).JSON(errorBody(err.Error()))
	}

	messages := make([]Message, 0, len(turns))
	for _, t := range turns {
		if t.UserID != userID {
			continue
		}
		link, err := s.svc.ResolveAudioURL(c.UserContext(), t)
		if err != nil {
			s.logger.Warn("failed to resolve audio url", "request_id", t.RequestID, "error", err)
		}
		messages = append(messages, Message{Turn: t, AudioURL: link})
	}
	return c.JSON(messages)
}

func (s *Server) handleListConversations(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("userId is required"))
	}

	summaries, err := s.svc.ListUserConversations(c.UserContext(), userID)
	if err != nil {
		return c.Status(conversation.StatusCode(err)).JSON(errorBody(err.Error()))
	}
	return c.JSON(summaries)
}
