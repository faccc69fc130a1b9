package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/hub"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	writes []string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	// Text frames only; pings and close frames are ignored.
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	f.writes = append(f.writes, string(data))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) Close() error                      { f.once.Do(func() { close(f.closed) }); return nil }

func (f *fakeConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func startHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	require.Eventually(t, h.IsRunning, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func subscribe(t *testing.T, h *hub.Hub, topic Topic) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	c := hub.NewClient(h, conn, "sess-"+string(topic), string(topic))
	require.NoError(t, c.Register())
	go c.Run()
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.Subscribers(string(topic)) == 1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestTopics(t *testing.T) {
	assert.Equal(t, Topic("conversation/c1"), ConversationTopic("c1"))
	assert.Equal(t, Topic("user/u1"), UserTopic("u1"))

	tests := []struct {
		topic Topic
		want  bool
	}{
		{"conversation/c1", true},
		{"user/u1", true},
		{"conversation/", false},
		{"user/", false},
		{"other/x", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.topic), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.topic.Valid())
		})
	}
}

func TestHubNotifierDelivers(t *testing.T) {
	h := startHub(t)
	conn := subscribe(t, h, ConversationTopic("c1"))
	n := NewHub(h, nil)

	n.Publish(context.Background(), ConversationTopic("c1"),
		protocol.NewTranscriptionUpdate("c1", "r1", "hello", 100))
	// Not subscribed; must not reach conn.
	n.Publish(context.Background(), ConversationTopic("c2"),
		protocol.NewTranscriptionUpdate("c2", "r2", "other", 101))

	require.Eventually(t, func() bool { return len(conn.frames()) == 1 }, 2*time.Second, 5*time.Millisecond)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(conn.frames()[0]), &got))
	assert.Equal(t, "TRANSCRIPTION_UPDATE", got["type"])
	assert.Equal(t, "r1", got["requestId"])
	assert.Equal(t, "hello", got["transcript"])
}

func TestHubNotifierStoppedHubDoesNotBlock(t *testing.T) {
	h := hub.New("stopped", nil)
	n := NewHub(h, nil)

	done := make(chan struct{})
	go func() {
		n.Publish(context.Background(), UserTopic("u1"), protocol.NewErrorEvent("c1", "r1", "boom", 1))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stopped hub")
	}
	assert.Equal(t, uint64(1), h.Stats().Dropped)
}

func TestFanout(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	f := Fanout{a, nil, b}

	ev := protocol.NewAIResponse("c1", "r1", "hi", "", 5)
	f.Publish(context.Background(), ConversationTopic("c1"), ev)

	for _, r := range []*Recorder{a, b} {
		got := r.On(ConversationTopic("c1"))
		require.Len(t, got, 1)
		assert.Equal(t, ev, got[0])
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	r.Publish(ctx, ConversationTopic("c1"), protocol.NewTranscriptionUpdate("c1", "r1", "t", 1))
	r.Publish(ctx, ConversationTopic("c1"), protocol.NewAIResponse("c1", "r1", "a", "", 2))
	r.Publish(ctx, UserTopic("u1"), protocol.NewAIResponse("c1", "r1", "a", "", 2))

	assert.Len(t, r.All(), 3)
	assert.Len(t, r.On(ConversationTopic("c1")), 2)
	assert.Len(t, r.OfType(ConversationTopic("c1"), protocol.TypeAIResponse), 1)
	assert.Empty(t, r.OfType(UserTopic("u1"), protocol.TypeError))

	r.Reset()
	assert.Empty(t, r.All())
}

func TestRedisPublishAndRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := startHub(t)
	conn := subscribe(t, h, UserTopic("u1"))

	n := NewRedis(client, WithChannelPrefix("test"))

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	go func() { relayDone <- n.Relay(ctx, h) }()

	// Wait until the pattern subscription is live.
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 5*time.Millisecond)

	n.Publish(context.Background(), UserTopic("u1"), protocol.NewAIResponse("c1", "r1", "hello", "https://x/a", 7))
	n.Flush()

	require.Eventually(t, func() bool { return len(conn.frames()) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev, err := protocol.ParseEvent([]byte(conn.frames()[0]))
	require.NoError(t, err)
	resp, ok := ev.(protocol.AIResponse)
	require.True(t, ok)
	assert.Equal(t, "hello", resp.Response)
	assert.Equal(t, "https://x/a", resp.AudioURL)

	cancel()
	select {
	case err := <-relayDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRedisRelayIgnoresForeignChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := startHub(t)
	n := NewRedis(client, WithChannelPrefix("test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Relay(ctx, h)
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 5*time.Millisecond)

	mr.Publish("test:bogus", `{"type":"ERROR"}`)

	// Give the relay a moment; nothing should have been queued.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.Stats().Published)
}

func TestRedisPublishFailureIsSwallowed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	n := NewRedis(client, WithPublishTimeout(100*time.Millisecond))
	n.Publish(context.Background(), ConversationTopic("c1"), protocol.NewErrorEvent("c1", "r1", "x", 1))
	n.Flush()
}
