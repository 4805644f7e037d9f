package database

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisClients keeps publishing and subscribing on separate pools so long-lived
// subscriptions never starve the deny-list lookups on the request path.
type RedisClients struct {
	Events *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse Redis URL")
	}

	eventsClient := redis.NewClient(opt)
	if err := pingWithRetry(eventsClient, "events"); err != nil {
		eventsClient.Close()
		return nil, err
	}

	pubsubOpt := *opt
	pubsubClient := redis.NewClient(&pubsubOpt)
	if err := pingWithRetry(pubsubClient, "pubsub"); err != nil {
		eventsClient.Close()
		pubsubClient.Close()
		return nil, err
	}

	return &RedisClients{
		Events: eventsClient,
		PubSub: pubsubClient,
	}, nil
}

func pingWithRetry(client *redis.Client, role string) error {
	return retry.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Wrapf(client.Ping(ctx).Err(), "failed to ping Redis (%s)", role)
	},
		retry.Attempts(connectAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Str("role", role).Uint("attempt", n+1).Msg("redis not ready, retrying")
		}),
	)
}

func (r *RedisClients) Close() {
	r.Events.Close()
	r.PubSub.Close()
}
