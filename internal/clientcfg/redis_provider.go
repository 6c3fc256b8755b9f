package clientcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/verilens/detection-engine/internal/logger"
	"github.com/verilens/detection-engine/pkg/models"
)

const clientConfigKeyPrefix = "clientcfg:"

// RedisProvider reads per-client configuration from Redis. Records are JSON
// documents written by the external configuration service; this provider
// never writes them.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider creates a provider backed by the given Redis client. The
// caller owns the client's lifecycle.
func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{
		client: client,
	}
}

// GetClientConfig fetches the client's configuration document. A missing key
// yields the defaults; a malformed document is logged and treated as missing
// so one bad record cannot take a client offline.
func (p *RedisProvider) GetClientConfig(ctx context.Context, clientID string) (*models.ClientConfig, error) {
	key := clientConfigKeyPrefix + clientID

	raw, err := p.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return DefaultConfig(clientID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch client config %s: %w", clientID, err)
	}

	var cfg models.ClientConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		logger.WithFields(logrus.Fields{
			"client_id": clientID,
			"error":     err.Error(),
		}).Warn("Malformed client config, using defaults")
		return DefaultConfig(clientID), nil
	}
	cfg.ClientID = clientID
	return &cfg, nil
}

// Ping verifies the Redis connection is usable.
func (p *RedisProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
