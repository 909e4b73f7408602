// Package creditcheck answers whether a customer is denylisted, backed by a Redis set.
package creditcheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/videostore/rental-service/internal/config"
	"github.com/videostore/rental-service/internal/domain"
)

// setClient is the subset of redis.Cmdable the denylist uses
type setClient interface {
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// RedisDenylist keeps denylisted customer names in a Redis set
type RedisDenylist struct {
	client         setClient
	key            string
	timeout        time.Duration
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewRedisClient creates a Redis client from config and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewRedisDenylist creates a denylist over the given client
func NewRedisDenylist(client setClient, key string, timeout time.Duration, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *RedisDenylist {
	return &RedisDenylist{
		client:         client,
		key:            key,
		timeout:        timeout,
		circuitBreaker: cb,
		logger:         logger,
	}
}

// IsDenylisted reports whether the customer is in the denylist set
func (d *RedisDenylist) IsDenylisted(ctx context.Context, customer *domain.Customer) (bool, error) {
	if customer == nil {
		return false, fmt.Errorf("customer required")
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	result, err := d.circuitBreaker.Execute(func() (interface{}, error) {
		return d.client.SIsMember(ctx, d.key, member(customer)).Result()
	})
	if err != nil {
		d.logger.Error("Denylist lookup failed",
			zap.String("key", d.key),
			zap.Error(err),
		)
		return false, fmt.Errorf("%w: %v", domain.ErrRedisError, err)
	}

	return result.(bool), nil
}

// Deny adds a customer to the denylist
func (d *RedisDenylist) Deny(ctx context.Context, customer *domain.Customer) error {
	if err := d.client.SAdd(ctx, d.key, member(customer)).Err(); err != nil {
		return fmt.Errorf("failed to denylist customer: %w", err)
	}
	return nil
}

// Allow removes a customer from the denylist
func (d *RedisDenylist) Allow(ctx context.Context, customer *domain.Customer) error {
	if err := d.client.SRem(ctx, d.key, member(customer)).Err(); err != nil {
		return fmt.Errorf("failed to remove customer from denylist: %w", err)
	}
	return nil
}

func member(c *domain.Customer) string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}
