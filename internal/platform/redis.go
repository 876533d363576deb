package platform

import (
	"context"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from the given URL and verifies
// connectivity with a ping.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// RedactURL reduces a Redis DSN to scheme, host, port and path for safe
// logging. A username is kept; any password is replaced with a fixed
// placeholder.
func RedactURL(raw string) string {
	if raw == "" {
		return "<empty>"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	host := parsed.Hostname()
	port := parsed.Port()
	netloc := host
	if port != "" {
		netloc = host + ":" + port
	}
	if parsed.User != nil {
		username := parsed.User.Username()
		if username != "" {
			netloc = username + ":***@" + netloc
		} else {
			netloc = ":***@" + netloc
		}
	}
	return parsed.Scheme + "://" + netloc + parsed.Path
}
