// Package turn defines the conversation turn record and its status state machine.
package turn

import (
	"errors"
	"fmt"
)

// Direction tells whether a turn came from the user or from the system.
type Direction string

const (
	// DirectionInput is a user audio turn.
	DirectionInput Direction = "INPUT"
	// DirectionOutput is a system-generated response turn.
	DirectionOutput Direction = "OUTPUT"
)

// Status is the lifecycle phase of a turn.
type Status string

const (
	// StatusProcessing means audio was accepted and the pipeline was started.
	StatusProcessing Status = "PROCESSING"
	// StatusTranscribed means the transcript is available.
	StatusTranscribed Status = "TRANSCRIBED"
	// StatusCompleted means the response was produced. Terminal.
	StatusCompleted Status = "COMPLETED"
	// StatusError means the turn failed. Terminal.
	StatusError Status = "ERROR"
)

// ResponseSuffix is appended to an input request id to name its response turn.
const ResponseSuffix = "-response"

// ErrInvalid is returned by Validate for incomplete turns.
var ErrInvalid = errors.New("turn: invalid turn")

// Turn is one message exchanged in a conversation.
// (ConversationID, Timestamp) is unique; RequestID is unique per turn.
type Turn struct {
	ConversationID      string    `json:"conversationId" dynamodbav:"conversationId"`
	Timestamp           int64     `json:"timestamp" dynamodbav:"timestamp"`
	UserID              string    `json:"userId" dynamodbav:"userId"`
	SessionID           string    `json:"sessionId,omitempty" dynamodbav:"sessionId,omitempty"`
	RequestID           string    `json:"requestId" dynamodbav:"requestId"`
	ParentRequestID     string    `json:"parentRequestId,omitempty" dynamodbav:"parentRequestId,omitempty"`
	Direction           Direction `json:"type" dynamodbav:"type"`
	Status              Status    `json:"status" dynamodbav:"status"`
	AudioRef            string    `json:"audioRef,omitempty" dynamodbav:"audioRef,omitempty"`
	Transcript          string    `json:"transcript,omitempty" dynamodbav:"transcript,omitempty"`
	ResponseText        string    `json:"text,omitempty" dynamodbav:"text,omitempty"`
	TranscriptionJobRef string    `json:"transcriptionJobRef,omitempty" dynamodbav:"transcriptionJobRef,omitempty"`
	ErrorMessage        string    `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
	CreatedAt           int64     `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt           int64     `json:"updatedAt,omitempty" dynamodbav:"updatedAt,omitempty"`
}

// NewInput builds the PROCESSING input turn for a fresh audio submission.
func NewInput(conversationID, userID, sessionID, requestID, audioRef string, ts int64) Turn {
	return Turn{
		ConversationID: conversationID,
		Timestamp:      ts,
		UserID:         userID,
		SessionID:      sessionID,
		RequestID:      requestID,
		Direction:      DirectionInput,
		Status:         StatusProcessing,
		AudioRef:       audioRef,
		CreatedAt:      ts,
	}
}

// NewOutput builds the COMPLETED response turn for input.
// ts must be greater than input.Timestamp.
func NewOutput(input Turn, text, audioRef string, ts int64) Turn {
	return Turn{
		ConversationID:  input.ConversationID,
		Timestamp:       ts,
		UserID:          input.UserID,
		SessionID:       input.SessionID,
		RequestID:       input.RequestID + ResponseSuffix,
		ParentRequestID: input.RequestID,
		Direction:       DirectionOutput,
		Status:          StatusCompleted,
		AudioRef:        audioRef,
		ResponseText:    text,
		CreatedAt:       ts,
	}
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusTranscribed, StatusCompleted, StatusError:
		return true
	}
	return false
}

// transitions lists the forward edges of the state machine.
var transitions = map[Status][]Status{
	StatusProcessing:  {StatusTranscribed, StatusError},
	StatusTranscribed: {StatusCompleted, StatusError},
}

// CanTransition reports whether from -> to is a forward edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance returns a copy of t moved to status to, stamped with updatedAt.
// It fails when the edge is not part of the state machine.
func (t Turn) Advance(to Status, updatedAt int64) (Turn, error) {
	if !CanTransition(t.Status, to) {
		return t, fmt.Errorf("turn: illegal transition %s -> %s for %s", t.Status, to, t.RequestID)
	}
	t.Status = to
	t.UpdatedAt = updatedAt
	return t, nil
}

// Validate checks the fields every stored turn must carry.
func (t Turn) Validate() error {
	switch {
	case t.ConversationID == "":
		return fmt.Errorf("%w: missing conversation id", ErrInvalid)
	case t.RequestID == "":
		return fmt.Errorf("%w: missing request id", ErrInvalid)
	case t.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrInvalid)
	case t.Timestamp <= 0:
		return fmt.Errorf("%w: missing timestamp", ErrInvalid)
	case t.Direction != DirectionInput && t.Direction != DirectionOutput:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalid, t.Direction)
	case !t.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, t.Status)
	}
	return nil
}
