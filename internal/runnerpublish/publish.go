// Package runnerpublish is the Runner-side half of the Event Bus: a
// publish-only Redis client with lazy reconnect and a single retry, so a
// Bridge Monitor event never blocks on a flaky broker (grounded on the
// control plane's EventManager counterpart, adapted for publish-only use).
package runnerpublish

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexusruntime/nexus/internal/platform"
)

// Publisher publishes runtime events to `tenant:<id>:events` channels.
type Publisher struct {
	redisURL string
	logger   *slog.Logger

	mu     sync.Mutex
	client *redis.Client
}

// New constructs a Publisher. Connection is lazy: the first Publish call
// triggers it.
func New(redisURL string, logger *slog.Logger) *Publisher {
	return &Publisher{redisURL: redisURL, logger: logger}
}

// ValidateRedisURLOnce logs warnings (not errors — the publisher degrades
// to silent-drop rather than failing startup) for a missing scheme, host,
// or a username supplied without a password.
func ValidateRedisURLOnce(rawURL string, logger *slog.Logger) {
	u, err := url.Parse(rawURL)
	if err != nil {
		logger.Warn("redis url failed to parse", "error", err)
		return
	}
	if u.Scheme == "" {
		logger.Warn("redis url missing scheme", "url", platform.RedactURL(rawURL))
	}
	if u.Host == "" {
		logger.Warn("redis url missing host", "url", platform.RedactURL(rawURL))
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); !hasPassword && u.User.Username() != "" {
			logger.Warn("redis url has username but no password", "url", platform.RedactURL(rawURL))
		}
	}
}

func (p *Publisher) ensureConnected(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		if err := p.client.Ping(ctx).Err(); err == nil {
			return true
		}
		p.disconnectLocked()
	}

	opts, err := redis.ParseURL(p.redisURL)
	if err != nil {
		p.logger.Warn("publisher redis url parse failed", "error", err)
		return false
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		p.logger.Warn("publisher redis connect failed", "error", err)
		client.Close()
		return false
	}
	p.client = client
	return true
}

func (p *Publisher) disconnectLocked() {
	if p.client == nil {
		return
	}
	p.client.Close()
	p.client = nil
}

// Disconnect closes the underlying client, if any.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectLocked()
}

// IsHealthy reports whether the publisher currently has a working Redis
// connection, for health-check reporting.
func (p *Publisher) IsHealthy(ctx context.Context) bool {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}

// Publish sends an event on `tenant:<id>:events`, retrying once after a
// reconnect if the first attempt fails, and dropping the event silently if
// Redis remains unavailable (matching the teacher's "never block the
// caller on broker health" behavior).
func (p *Publisher) Publish(ctx context.Context, tenantID, eventType string, payload map[string]any) {
	event := map[string]any{
		"tenant_id":  tenantID,
		"type":       eventType,
		"payload":    payload,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("publisher marshal failed", "tenant_id", tenantID, "error", err)
		return
	}

	channel := "tenant:" + tenantID + ":events"

	if p.ensureConnected(ctx) {
		p.mu.Lock()
		client := p.client
		p.mu.Unlock()
		if client != nil && client.Publish(ctx, channel, raw).Err() == nil {
			return
		}
		p.mu.Lock()
		p.disconnectLocked()
		p.mu.Unlock()
	}

	if p.ensureConnected(ctx) {
		p.mu.Lock()
		client := p.client
		p.mu.Unlock()
		if client != nil && client.Publish(ctx, channel, raw).Err() == nil {
			return
		}
	}

	p.logger.Warn("publisher dropped event, redis unavailable", "tenant_id", tenantID, "event_type", eventType)
}
