// Package protocol defines the typed messages exchanged with subscribers and
// with the remote processing functions. Every message carries a "type"
// discriminant so that consumers can decode it without guessing.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the kind of a message.
type MessageType string

const (
	// Server -> subscriber events
	TypeTranscriptionUpdate MessageType = "TRANSCRIPTION_UPDATE"
	TypeAIResponse          MessageType = "AI_RESPONSE"
	TypeError               MessageType = "ERROR"
	TypeConnected           MessageType = "CONNECTED"

	// Server -> remote function payloads
	TypeSubmitAudio      MessageType = "SUBMIT_AUDIO"
	TypeGenerateResponse MessageType = "GENERATE_RESPONSE"
)

// ErrUnknownType is returned by ParseEvent for unrecognized discriminants.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Event is a notification pushed to conversation and user topics.
// The set of implementations is closed.
type Event interface {
	EventType() MessageType
	EventRequestID() string
	isEvent()
}

// TranscriptionUpdate announces that a turn's transcript is available.
type TranscriptionUpdate struct {
	Type           MessageType `json:"type"`
	RequestID      string      `json:"requestId"`
	ConversationID string      `json:"conversationId"`
	Transcript     string      `json:"transcript"`
	Timestamp      int64       `json:"timestamp"`
}

// AIResponse carries the generated reply and a time-limited audio URL.
type AIResponse struct {
	Type           MessageType `json:"type"`
	RequestID      string      `json:"requestId"`
	ConversationID string      `json:"conversationId"`
	Response       string      `json:"response"`
	AudioURL       string      `json:"audioUrl"`
	Timestamp      int64       `json:"timestamp"`
}

// ErrorEvent reports that a turn failed.
type ErrorEvent struct {
	Type           MessageType `json:"type"`
	RequestID      string      `json:"requestId"`
	ConversationID string      `json:"conversationId"`
	Message        string      `json:"message"`
	Timestamp      int64       `json:"timestamp"`
}

// Connected is the first frame sent on a new websocket subscription.
type Connected struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"sessionId"`
	UserID         string      `json:"userId,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

func (TranscriptionUpdate) EventType() MessageType { return TypeTranscriptionUpdate }
func (AIResponse) EventType() MessageType          { return TypeAIResponse }
func (ErrorEvent) EventType() MessageType          { return TypeError }
func (Connected) EventType() MessageType           { return TypeConnected }

func (e TranscriptionUpdate) EventRequestID() string { return e.RequestID }
func (e AIResponse) EventRequestID() string          { return e.RequestID }
func (e ErrorEvent) EventRequestID() string          { return e.RequestID }
func (Connected) EventRequestID() string             { return "" }

func (TranscriptionUpdate) isEvent() {}
func (AIResponse) isEvent()          {}
func (ErrorEvent) isEvent()          {}
func (Connected) isEvent()           {}

// NewTranscriptionUpdate builds a TRANSCRIPTION_UPDATE event.
func NewTranscriptionUpdate(conversationID, requestID, transcript string, ts int64) TranscriptionUpdate {
	return TranscriptionUpdate{
		Type:           TypeTranscriptionUpdate,
		RequestID:      requestID,
		ConversationID: conversationID,
		Transcript:     transcript,
		Timestamp:      ts,
	}
}

// NewAIResponse builds an AI_RESPONSE event.
func NewAIResponse(conversationID, requestID, response, audioURL string, ts int64) AIResponse {
	return AIResponse{
		Type:           TypeAIResponse,
		RequestID:      requestID,
		ConversationID: conversationID,
		Response:       response,
		AudioURL:       audioURL,
		Timestamp:      ts,
	}
}

// NewErrorEvent builds an ERROR event.
func NewErrorEvent(conversationID, requestID, message string, ts int64) ErrorEvent {
	return ErrorEvent{
		Type:           TypeError,
		RequestID:      requestID,
		ConversationID: conversationID,
		Message:        message,
		Timestamp:      ts,
	}
}

// NewConnected builds the CONNECTED greeting.
func NewConnected(sessionID, userID, conversationID string, ts int64) Connected {
	return Connected{
		Type:           TypeConnected,
		SessionID:      sessionID,
		UserID:         userID,
		ConversationID: conversationID,
		Timestamp:      ts,
	}
}

// Encode returns the JSON form of ev, forcing the discriminant to match the Go type.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case TranscriptionUpdate:
		e.Type = TypeTranscriptionUpdate
		return json.Marshal(e)
	case AIResponse:
		e.Type = TypeAIResponse
		return json.Marshal(e)
	case ErrorEvent:
		e.Type = TypeError
		return json.Marshal(e)
	case Connected:
		e.Type = TypeConnected
		return json.Marshal(e)
	case nil:
		return nil, errors.New("protocol: nil event")
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownType, ev)
}

// ParseEvent decodes a JSON event using its type discriminant.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch head.Type {
	case TypeTranscriptionUpdate:
		var e TranscriptionUpdate
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeAIResponse:
		var e AIResponse
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeConnected:
		var e Connected
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", head.Type, err)
	}
	return ev, nil
}
