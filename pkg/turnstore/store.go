// Package turnstore persists conversation turns keyed by
// (conversationId, timestamp), with a secondary lookup by requestId and a
// per-user index of conversations.
package turnstore

import (
	"context"
	"errors"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

// Errors returned by Store implementations.
var (
	ErrNotFound  = errors.New("turnstore: turn not found")
	ErrDuplicate = errors.New("turnstore: turn already exists")
	ErrConflict  = errors.New("turnstore: status changed concurrently")
)

// Store is the conversation store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create inserts a new turn. It fails with ErrDuplicate if the
	// (conversationId, timestamp) slot or the requestId is taken.
	Create(ctx context.Context, t turn.Turn) error

	// Get returns the turn with requestID in conversationID.
	Get(ctx context.Context, conversationID, requestID string) (turn.Turn, error)

	// Update replaces a stored turn, but only while its stored status is
	// still expected. Otherwise it fails with ErrConflict.
	Update(ctx context.Context, t turn.Turn, expected turn.Status) error

	// ListConversation returns a conversation's turns oldest first.
	ListConversation(ctx context.Context, conversationID string) ([]turn.Turn, error)

	// ListUserConversations returns the ids of userID's conversations,
	// most recently active first.
	ListUserConversations(ctx context.Context, userID string) ([]string, error)

	// ListPendingConversations returns the ids of conversations holding an
	// INPUT turn that is not yet COMPLETED or ERROR, in no particular order.
	ListPendingConversations(ctx context.Context) ([]string, error)
}

// IsNotFound reports whether err means the turn does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err means a conditional update lost a race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
