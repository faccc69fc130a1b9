package turnstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

const maxTxRetries = 5

// Redis stores turns as JSON strings with two sorted-set indexes:
//
//	{prefix}:turn:{conversationId}:{requestId}  turn JSON
//	{prefix}:conv:{conversationId}              zset timestamp -> requestId
//	{prefix}:user:{userId}                      zset last activity -> conversationId
//	{prefix}:pending                            hash turn key -> conversationId
//
// The pending hash holds an entry for every unfinished input turn.
// Conditional writes use WATCH/MULTI so concurrent callbacks for the same
// turn cannot both win.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix. Default is "voice".
func WithPrefix(prefix string) RedisOption {
	return func(s *Redis) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires turns and indexes after ttl. Zero keeps them forever,
// which is the default.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *Redis) {
		s.ttl = ttl
	}
}

// NewRedis creates a Redis-backed store.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{client: client, prefix: "voice"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts t.
func (s *Redis) Create(ctx context.Context, t turn.Turn) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("turnstore: marshal turn: %w", err)
	}

	tk := s.turnKey(t.ConversationID, t.RequestID)
	ck := s.conversationKey(t.ConversationID)
	uk := s.userKey(t.UserID)
	score := fmt.Sprintf("%d", t.Timestamp)
	unfinished := t.Direction == turn.DirectionInput && !t.Status.IsTerminal()

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, tk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: request %s", ErrDuplicate, t.RequestID)
		}
		taken, err := tx.ZRangeByScore(ctx, ck, &redis.ZRangeBy{Min: score, Max: score}).Result()
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return fmt.Errorf("%w: %s@%d", ErrDuplicate, t.ConversationID, t.Timestamp)
		}
		activity := float64(t.Timestamp)
		if cur, err := tx.ZScore(ctx, uk, t.ConversationID).Result(); err == nil && cur > activity {
			activity = cur
		} else if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tk, data, s.ttl)
			pipe.ZAdd(ctx, ck, redis.Z{Score: float64(t.Timestamp), Member: t.RequestID})
			pipe.ZAdd(ctx, uk, redis.Z{Score: activity, Member: t.ConversationID})
			if unfinished {
				pipe.HSet(ctx, s.pendingKey(), tk, t.ConversationID)
			}
			if s.ttl > 0 {
				pipe.Expire(ctx, ck, s.ttl)
				pipe.Expire(ctx, uk, s.ttl)
			}
			return nil
		})
		return err
	}

	return s.watch(ctx, txf, tk, ck, uk)
}

// Get returns one turn.
func (s *Redis) Get(ctx context.Context, conversationID, requestID string) (turn.Turn, error) {
	data, err := s.client.Get(ctx, s.turnKey(conversationID, requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return turn.Turn{}, fmt.Errorf("%w: %s/%s", ErrNotFound, conversationID, requestID)
		}
		return turn.Turn{}, fmt.Errorf("turnstore: redis get failed: %w", err)
	}
	var t turn.Turn
	if err := json.Unmarshal(data, &t); err != nil {
		return turn.Turn{}, fmt.Errorf("turnstore: unmarshal turn: %w", err)
	}
	return t, nil
}

// Update replaces t when the stored status equals expected.
func (s *Redis) Update(ctx context.Context, t turn.Turn, expected turn.Status) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tk := s.turnKey(t.ConversationID, t.RequestID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, tk).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, t.ConversationID, t.RequestID)
		}
		if err != nil {
			return err
		}
		var cur turn.Turn
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("turnstore: unmarshal turn: %w", err)
		}
		if cur.Status != expected {
			return fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, t.RequestID, cur.Status, expected)
		}

		next := t
		next.Timestamp = cur.Timestamp
		next.UserID = cur.UserID
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("turnstore: marshal turn: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tk, data, s.ttl)
			if next.Status.IsTerminal() {
				pipe.HDel(ctx, s.pendingKey(), tk)
			}
			return nil
		})
		return err
	}

	return s.watch(ctx, txf, tk)
}

// ListConversation returns turns oldest first.
func (s *Redis) ListConversation(ctx context.Context, conversationID string) ([]turn.Turn, error) {
	ids, err := s.client.ZRange(ctx, s.conversationKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("turnstore: redis zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return []turn.Turn{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.turnKey(conversationID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("turnstore: redis mget failed: %w", err)
	}

	out := make([]turn.Turn, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// expired between ZRANGE and MGET
			continue
		}
		var t turn.Turn
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			return nil, fmt.Errorf("turnstore: unmarshal turn: %w", err)
		}
		out = append(out, t)
	}
	return turn.SortByTimestamp(out), nil
}

// ListUserConversations returns conversation ids, most recent activity first.
func (s *Redis) ListUserConversations(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("turnstore: redis zrevrange failed: %w", err)
	}
	return ids, nil
}

// ListPendingConversations returns conversations with unfinished input turns.
func (s *Redis) ListPendingConversations(ctx context.Context) ([]string, error) {
	entries, err := s.client.HGetAll(ctx, s.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("turnstore: redis hgetall failed: %w", err)
	}
	seen := make(map[string]struct{}, len(entries))
	ids := []string{}
	for _, conversationID := range entries {
		if _, ok := seen[conversationID]; ok {
			continue
		}
		seen[conversationID] = struct{}{}
		ids = append(ids, conversationID)
	}
	return ids, nil
}

// watch runs txf under WATCH, retrying when another client touched the keys.
func (s *Redis) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrDuplicate) && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("turnstore: redis transaction failed: %w", err)
		}
		return err
	}
	return fmt.Errorf("%w: too many concurrent writers", ErrConflict)
}

func (s *Redis) turnKey(conversationID, requestID string) string {
	return fmt.Sprintf("%s:turn:%s:%s", s.prefix, conversationID, requestID)
}

func (s *Redis) conversationKey(conversationID string) string {
	return fmt.Sprintf("%s:conv:%s", s.prefix, conversationID)
}

func (s *Redis) pendingKey() string {
	return s.prefix + ":pending"
}

func (s *Redis) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}
