package turnstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

type turnKey struct {
	conversationID string
	requestID      string
}

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex

	turns        map[turnKey]turn.Turn
	slots        map[string]map[int64]string // conversationId -> timestamp -> requestId
	userActivity map[string]map[string]int64 // userId -> conversationId -> last timestamp
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		turns:        make(map[turnKey]turn.Turn),
		slots:        make(map[string]map[int64]string),
		userActivity: make(map[string]map[string]int64),
	}
}

// Create inserts t.
func (m *Memory) Create(ctx context.Context, t turn.Turn) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := turnKey{t.ConversationID, t.RequestID}
	if _, ok := m.turns[k]; ok {
		return fmt.Errorf("%w: request %s", ErrDuplicate, t.RequestID)
	}
	slots := m.slots[t.ConversationID]
	if slots == nil {
		slots = make(map[int64]string)
		m.slots[t.ConversationID] = slots
	}
	if _, ok := slots[t.Timestamp]; ok {
		return fmt.Errorf("%w: %s@%d", ErrDuplicate, t.ConversationID, t.Timestamp)
	}

	slots[t.Timestamp] = t.RequestID
	m.turns[k] = t
	m.touch(t.UserID, t.ConversationID, t.Timestamp)
	return nil
}

// Get returns one turn.
func (m *Memory) Get(ctx context.Context, conversationID, requestID string) (turn.Turn, error) {
	if err := ctx.Err(); err != nil {
		return turn.Turn{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.turns[turnKey{conversationID, requestID}]
	if !ok {
		return turn.Turn{}, fmt.Errorf("%w: %s/%s", ErrNotFound, conversationID, requestID)
	}
	return t, nil
}

// Update replaces t when the stored status equals expected.
// Key fields (conversation, timestamp, user) cannot change.
func (m *Memory) Update(ctx context.Context, t turn.Turn, expected turn.Status) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := turnKey{t.ConversationID, t.RequestID}
	cur, ok := m.turns[k]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, t.ConversationID, t.RequestID)
	}
	if cur.Status != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, t.RequestID, cur.Status, expected)
	}

	t.Timestamp = cur.Timestamp
	t.UserID = cur.UserID
	m.turns[k] = t
	return nil
}

// ListConversation returns turns oldest first.
func (m *Memory) ListConversation(ctx context.Context, conversationID string) ([]turn.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	slots := m.slots[conversationID]
	out := make([]turn.Turn, 0, len(slots))
	for _, requestID := range slots {
		out = append(out, m.turns[turnKey{conversationID, requestID}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// ListUserConversations returns conversation ids, most recent activity first.
func (m *Memory) ListUserConversations(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	activity := m.userActivity[userID]
	ids := make([]string, 0, len(activity))
	for id := range activity {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if activity[ids[i]] != activity[ids[j]] {
			return activity[ids[i]] > activity[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

// ListPendingConversations returns conversations with unfinished input turns.
func (m *Memory) ListPendingConversations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := []string{}
	for k, t := range m.turns {
		if t.Direction != turn.DirectionInput || t.Status.IsTerminal() {
			continue
		}
		if _, ok := seen[k.conversationID]; ok {
			continue
		}
		seen[k.conversationID] = struct{}{}
		ids = append(ids, k.conversationID)
	}
	return ids, nil
}

func (m *Memory) touch(userID, conversationID string, ts int64) {
	convs := m.userActivity[userID]
	if convs == nil {
		convs = make(map[string]int64)
		m.userActivity[userID] = convs
	}
	if ts > convs[conversationID] {
		convs[conversationID] = ts
	}
}
