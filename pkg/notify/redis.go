package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/hub"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/metrics"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
)

const (
	defaultPublishTimeout = 500 * time.Millisecond
	defaultInflight       = 64
)

// Redis publishes events on Redis pub/sub channels named {prefix}:{topic}
// so that every API instance can relay them to its own subscribers.
// Publishes run in the background and are bounded in number and time.
type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	inflight chan struct{}
	wg       sync.WaitGroup
}

// RedisOption configures a Redis notifier.
type RedisOption func(*Redis)

// WithChannelPrefix sets the channel prefix. Default is "voice:events".
func WithChannelPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithPublishTimeout bounds each PUBLISH round trip.
func WithPublishTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedis creates a Redis pub/sub notifier.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		prefix:   "voice:events",
		timeout:  defaultPublishTimeout,
		logger:   slog.Default(),
		inflight: make(chan struct{}, defaultInflight),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "notify.Redis")
	return r
}

// Publish sends event in the background. When too many publishes are
// already in flight the event is dropped.
func (r *Redis) Publish(ctx context.Context, topic Topic, event protocol.Event) {
	data, err := protocol.Encode(event)
	if err != nil {
		r.logger.Error("failed to encode event", "topic", topic, "error", err)
		return
	}

	select {
	case r.inflight <- struct{}{}:
	default:
		metrics.RecordNotification("redis", string(event.EventType()), false)
		r.logger.Warn("too many publishes in flight, dropping event", "topic", topic)
		return
	}

	channel := r.channel(topic)
	r.wg.Add(1)
	go func() {
		defer func() {
			<-r.inflight
			r.wg.Done()
		}()

		// The caller's context may end as soon as it returns.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		err := r.client.Publish(pctx, channel, data).Err()
		metrics.RecordNotification("redis", string(event.EventType()), err == nil)
		if err != nil {
			r.logger.Warn("publish failed", "channel", channel, "error", err)
		}
	}()
}

// Flush waits for in-flight publishes to finish.
func (r *Redis) Flush() {
	r.wg.Wait()
}

// Relay subscribes to every event channel and forwards payloads to the
// local hub until ctx is cancelled.
func (r *Redis) Relay(ctx context.Context, h *hub.Hub) error {
	sub := r.client.PSubscribe(ctx, r.prefix+":*")
	defer sub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	r.logger.Info("relaying events to hub", "pattern", r.prefix+":*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, r.prefix+":")
			if !Topic(topic).Valid() {
				continue
			}
			h.PublishJSON(topic, []byte(msg.Payload))
		}
	}
}

func (r *Redis) channel(topic Topic) string {
	return r.prefix + ":" + string(topic)
}
