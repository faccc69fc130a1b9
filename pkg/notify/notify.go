// Package notify pushes turn events to subscribers. Publishing is best
// effort: failures are logged and counted, never returned to the caller,
// and no implementation blocks on a slow consumer.
package notify

import (
	"context"
	"strings"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
)

// Topic names a subscription channel.
type Topic string

const (
	conversationPrefix = "conversation/"
	userPrefix         = "user/"
)

// ConversationTopic is the topic for one conversation's live view.
func ConversationTopic(conversationID string) Topic {
	return Topic(conversationPrefix + conversationID)
}

// UserTopic is the topic for one user's dashboard.
func UserTopic(userID string) Topic {
	return Topic(userPrefix + userID)
}

// Valid reports whether t is a conversation or user topic with a non-empty id.
func (t Topic) Valid() bool {
	s := string(t)
	switch {
	case strings.HasPrefix(s, conversationPrefix):
		return len(s) > len(conversationPrefix)
	case strings.HasPrefix(s, userPrefix):
		return len(s) > len(userPrefix)
	}
	return false
}

// Notifier publishes events to topics.
type Notifier interface {
	Publish(ctx context.Context, topic Topic, event protocol.Event)
}

// Fanout publishes every event to each of its notifiers in order.
type Fanout []Notifier

// Publish implements Notifier.
func (f Fanout) Publish(ctx context.Context, topic Topic, event protocol.Event) {
	for _, n := range f {
		if n != nil {
			n.Publish(ctx, topic, event)
		}
	}
}

// Nop discards every event.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(context.Context, Topic, protocol.Event) {}
