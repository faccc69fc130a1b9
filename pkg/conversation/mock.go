package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

// Mock is a mock implementation of Service for testing.
type Mock struct {
	mu sync.Mutex

	// Configurable behavior
	SubmitAudioFunc           func(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	RecordTranscriptionFunc   func(ctx context.Context, cb protocol.TranscriptionCallback) (bool, error)
	RecordResponseFunc        func(ctx context.Context, cb protocol.ResponseCallback) (bool, error)
	RecordFailureFunc         func(ctx context.Context, cb protocol.FailureCallback) (bool, error)
	ListConversationTurnsFunc func(ctx context.Context, conversationID string) ([]turn.Turn, error)
	ListUserConversationsFunc func(ctx context.Context, userID string) ([]turn.Summary, error)
	ResolveAudioURLFunc       func(ctx context.Context, t turn.Turn) (string, error)
	ExpireStaleFunc           func(ctx context.Context, conversationID string, olderThan time.Duration) (int, error)

	// Captured calls for assertions
	Submissions    []SubmitRequest
	Transcriptions []protocol.TranscriptionCallback
	Responses      []protocol.ResponseCallback
	Failures       []protocol.FailureCallback
}

var _ Service = (*Mock)(nil)

// NewMock creates a new Mock service.
func NewMock() *Mock {
	return &Mock{}
}

// SubmitAudio implements Service.
func (m *Mock) SubmitAudio(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	m.mu.Lock()
	m.Submissions = append(m.Submissions, req)
	m.mu.Unlock()

	if m.SubmitAudioFunc != nil {
		return m.SubmitAudioFunc(ctx, req)
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "mock-conversation"
	}
	return SubmitResult{
		RequestID:      "mock-request",
		ConversationID: conversationID,
		Status:         turn.StatusProcessing,
	}, nil
}

// RecordTranscription implements Service.
func (m *Mock) RecordTranscription(ctx context.Context, cb protocol.TranscriptionCallback) (bool, error) {
	m.mu.Lock()
	m.Transcriptions = append(m.Transcriptions, cb)
	m.mu.Unlock()

	if m.RecordTranscriptionFunc != nil {
		return m.RecordTranscriptionFunc(ctx, cb)
	}
	return true, nil
}

// RecordResponse implements Service.
func (m *Mock) RecordResponse(ctx context.Context, cb protocol.ResponseCallback) (bool, error) {
	m.mu.Lock()
	m.Responses = append(m.Responses, cb)
	m.mu.Unlock()

	if m.RecordResponseFunc != nil {
		return m.RecordResponseFunc(ctx, cb)
	}
	return true, nil
}

// RecordFailure implements Service.
func (m *Mock) RecordFailure(ctx context.Context, cb protocol.FailureCallback) (bool, error) {
	m.mu.Lock()
	m.Failures = append(m.Failures, cb)
	m.mu.Unlock()

	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, cb)
	}
	return true, nil
}

// ListConversationTurns implements Service.
func (m *Mock) ListConversationTurns(ctx context.Context, conversationID string) ([]turn.Turn, error) {
	if m.ListConversationTurnsFunc != nil {
		return m.ListConversationTurnsFunc(ctx, conversationID)
	}
	return []turn.Turn{}, nil
}

// ListUserConversations implements Service.
func (m *Mock) ListUserConversations(ctx context.Context, userID string) ([]turn.Summary, error) {
	if m.ListUserConversationsFunc != nil {
		return m.ListUserConversationsFunc(ctx, userID)
	}
	return []turn.Summary{}, nil
}

// ResolveAudioURL implements Service.
func (m *Mock) ResolveAudioURL(ctx context.Context, t turn.Turn) (string, error) {
	if m.ResolveAudioURLFunc != nil {
		return m.ResolveAudioURLFunc(ctx, t)
	}
	return "", nil
}

// ExpireStale implements Service.
func (m *Mock) ExpireStale(ctx context.Context, conversationID string, olderThan time.Duration) (int, error) {
	if m.ExpireStaleFunc != nil {
		return m.ExpireStaleFunc(ctx, conversationID, olderThan)
	}
	return 0, nil
}
