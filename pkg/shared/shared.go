// Package shared provides small helpers used by the service bootstrap.
package shared

import (
	"context"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
)

// MaskDSN hides the password of a connection string for logging.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if len(dsn) > 50 {
			return dsn[:20] + "***" + dsn[len(dsn)-20:]
		}
		return "***"
	}
	return u.Redacted()
}

// ConnectRedis creates and validates a Redis connection.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return client, nil
}
