package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"invoicing-backend/internal/models"
)

// EventPublisher fans tracking lifecycle changes out to live dashboards.
type EventPublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

// UserChannel is the pub/sub channel the websocket hub subscribes to per user.
func UserChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(redisClient *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: redisClient}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", msg.Type, err)
	}
	return p.redis.Publish(ctx, UserChannel(userID), data).Err()
}

// TokenRevoker keeps a deny-list of logged-out access tokens keyed by jti.
type TokenRevoker struct {
	redis *redis.Client
}

func NewTokenRevoker(redisClient *redis.Client) *TokenRevoker {
	return &TokenRevoker{redis: redisClient}
}

func (r *TokenRevoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.redis.Set(ctx, "revoked:"+jti, "1", ttl).Err()
}

func (r *TokenRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.redis.Exists(ctx, "revoked:"+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
