package turnstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

func newTestRedis(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, opts...), mr
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := newTestRedis(t)
		return s
	})
}

func TestRedisKeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t, WithPrefix("test"))

	require.NoError(t, s.Create(ctx, turn.NewInput("c1", "u1", "", "r1", "k", 1000)))

	assert.True(t, mr.Exists("test:turn:c1:r1"))
	members, err := mr.ZMembers("test:conv:c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, members)

	score, err := mr.ZScore("test:user:u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(1000), score)
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t, WithTTL(time.Hour))

	require.NoError(t, s.Create(ctx, turn.NewInput("c1", "u1", "", "r1", "k", 1000)))
	assert.Equal(t, time.Hour, mr.TTL("voice:turn:c1:r1"))
	assert.Equal(t, time.Hour, mr.TTL("voice:conv:c1"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(ctx, "c1", "r1")
	assert.True(t, IsNotFound(err))
}

func TestRedisUpdateKeepsKeyFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)
	in := turn.NewInput("c1", "u1", "", "r1", "k", 1000)
	require.NoError(t, s.Create(ctx, in))

	next, _ := in.Advance(turn.StatusError, 2000)
	next.Timestamp = 99
	next.UserID = "intruder"
	require.NoError(t, s.Update(ctx, next, turn.StatusProcessing))

	got, err := s.Get(ctx, "c1", "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Timestamp)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, turn.StatusError, got.Status)
}

func TestRedisConnectionError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := NewRedis(client)
	mr.Close()

	_, err = s.ListConversation(context.Background(), "c1")
	assert.Error(t, err)
	assert.False(t, IsNotFound(err))
}
