package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/internal/config"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/internal/log"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/blob"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/hub"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/invoke"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/notify"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turnstore"
)

// backends holds the storage, invocation and notification adapters chosen
// by configuration.
type backends struct {
	blobs       blob.Store
	memoryBlobs *blob.Memory
	turns       turnstore.Store
	invoker     invoke.Invoker
	notifier    notify.Notifier

	redis   *redis.Client
	relay   *notify.Redis
	awsConf *aws.Config
}

func newBackends(ctx context.Context, cfg *config.Service, subscribers *hub.Hub) (*backends, error) {
	b := &backends{}

	if cfg.StoreBackend == config.BackendRedis || cfg.NotifyRedis {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Debug("connected to redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	}

	steps := []func(context.Context, *config.Service) error{
		b.initBlobs,
		b.initTurns,
		b.initInvoker,
	}
	for _, step := range steps {
		if err := step(ctx, cfg); err != nil {
			b.Close()
			return nil, err
		}
	}

	// With NOTIFY_REDIS every replica publishes to Redis and relays the
	// channel into its own hub, so subscribers see events from all replicas.
	if cfg.NotifyRedis {
		b.relay = notify.NewRedis(b.redis,
			notify.WithChannelPrefix(cfg.RedisPrefix+":events"),
			notify.WithRedisLogger(log.Component("notify.Redis")),
		)
		b.notifier = b.relay
		go func() {
			if err := b.relay.Relay(ctx, subscribers); err != nil {
				log.Component("notify.Redis").Error("relay stopped", "error", err)
			}
		}()
	} else {
		b.notifier = notify.NewHub(subscribers, log.Component("notify.Hub"))
	}
	return b, nil
}

// awsConfig loads the shared AWS configuration once.
func (b *backends) awsConfig(ctx context.Context, cfg *config.Service) (aws.Config, error) {
	if b.awsConf != nil {
		return *b.awsConf, nil
	}
	ac, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	b.awsConf = &ac
	return ac, nil
}

func (b *backends) initBlobs(ctx context.Context, cfg *config.Service) error {
	switch cfg.BlobBackend {
	case config.BackendS3:
		ac, err := b.awsConfig(ctx, cfg)
		if err != nil {
			return err
		}
		store, err := blob.NewS3FromClient(s3.NewFromConfig(ac), cfg.AudioBucket, log.Component("blob.S3"))
		if err != nil {
			return err
		}
		b.blobs = store
	default:
		baseURL := cfg.PublicBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:" + cfg.Port
		}
		b.memoryBlobs = blob.NewMemory(baseURL, blob.WithSigningKey([]byte(cfg.BlobSigningKey)))
		b.blobs = b.memoryBlobs
	}
	return nil
}

func (b *backends) initTurns(ctx context.Context, cfg *config.Service) error {
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		ac, err := b.awsConfig(ctx, cfg)
		if err != nil {
			return err
		}
		store, err := turnstore.NewDynamoDB(dynamodb.NewFromConfig(ac), cfg.ConversationTable, cfg.ConversationUserIndex, log.Component("turnstore.DynamoDB"))
		if err != nil {
			return err
		}
		b.turns = store
	case config.BackendRedis:
		b.turns = turnstore.NewRedis(b.redis, turnstore.WithPrefix(cfg.RedisPrefix))
	default:
		b.turns = turnstore.NewMemory()
	}
	return nil
}

func (b *backends) initInvoker(ctx context.Context, cfg *config.Service) error {
	switch cfg.InvokerBackend {
	case config.BackendHTTP:
		opts := []invoke.HTTPOption{
			invoke.WithBaseURL(cfg.FunctionsBaseURL),
			invoke.WithLogger(log.Component("invoke.HTTP")),
		}
		if cfg.FunctionsClientID != "" {
			opts = append(opts, invoke.WithClientCredentials(cfg.FunctionsClientID, cfg.FunctionsClientSecret, cfg.FunctionsTokenURL))
		}
		inv, err := invoke.NewHTTP(opts...)
		if err != nil {
			return err
		}
		b.invoker = inv
	default:
		ac, err := b.awsConfig(ctx, cfg)
		if err != nil {
			return err
		}
		inv, err := invoke.NewLambda(lambda.NewFromConfig(ac), log.Component("invoke.Lambda"))
		if err != nil {
			return err
		}
		b.invoker = inv
	}
	return nil
}

// Close waits for in-flight Redis publishes and closes the client.
func (b *backends) Close() error {
	if b.relay != nil {
		b.relay.Flush()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
	}
	return nil
}
