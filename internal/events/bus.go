package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nexusruntime/nexus/internal/db"
)

const maxConsumeBackoff = 30 * time.Second

// Bus is the control plane's Event Bus + Event Log + WebSocket Fan-out: a
// single type wires Redis pub/sub, durable persistence, runtime-state
// projection, and per-tenant WebSocket broadcast together, mirroring the
// teacher's single EventManager shape.
type Bus struct {
	redis  *redis.Client
	pool   *pgxpool.Pool
	q      *db.Queries
	logger *slog.Logger

	registry *Registry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus wires a Bus against an already-constructed Redis client (may be
// nil, in which case the bus runs purely in-process) and Postgres pool.
func NewBus(redisClient *redis.Client, pool *pgxpool.Pool, logger *slog.Logger) *Bus {
	return &Bus{
		redis:    redisClient,
		pool:     pool,
		q:        db.New(pool),
		logger:   logger,
		registry: NewRegistry(),
	}
}

// Registry exposes the WebSocket subscriber registry for HTTP handlers to
// register/unregister connections against.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Start launches the Redis subscribe-consume supervisor loop in the
// background. Safe to call even when redis is nil — the loop simply never
// connects and Emit falls back to in-process persistence.
func (b *Bus) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.consumeSupervisor(ctx)
}

// Stop cancels the consume loop and waits for it to exit.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
}

// Emit publishes an event to Redis if available; otherwise (or on publish
// failure) it falls through to direct in-process persistence and broadcast,
// exactly as the teacher's emit() does.
func (b *Bus) Emit(ctx context.Context, tenantID, eventType string, payload map[string]any) error {
	evt := Event{
		TenantID:  tenantID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	if b.redis != nil {
		raw, err := json.Marshal(evt)
		if err == nil {
			if err := b.redis.Publish(ctx, channelFor(tenantID), raw).Err(); err == nil {
				return nil
			} else {
				b.logger.Warn("events redis publish failed", "tenant_id", tenantID, "event_type", eventType, "error", err)
			}
		}
	}

	return b.persistAndBroadcast(ctx, evt)
}

// RecentEvents returns a tenant's event log tail for the HTTP
// `events/recent` endpoint, filtering to types (when non-empty) after the
// database query since the log has no type index to push it down to.
func (b *Bus) RecentEvents(ctx context.Context, tenantID string, afterEventID int64, limit int32, types []string) ([]Event, error) {
	if limit <= 0 {
		limit = defaultReplay
	}
	if limit > maxReplay {
		limit = maxReplay
	}
	rows, err := b.q.ListRecentRuntimeEvents(ctx, tenantID, afterEventID, limit)
	if err != nil {
		return nil, err
	}

	var wanted map[string]struct{}
	if len(types) > 0 {
		wanted = make(map[string]struct{}, len(types))
		for _, t := range types {
			wanted[t] = struct{}{}
		}
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		if wanted != nil {
			if _, ok := wanted[row.Type]; !ok {
				continue
			}
		}
		out = append(out, rowToEvent(row))
	}
	return out, nil
}

func (b *Bus) consumeSupervisor(ctx context.Context) {
	defer close(b.done)

	if b.redis == nil {
		<-ctx.Done()
		return
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := b.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("events redis consume loop error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxConsumeBackoff)
			continue
		}
		backoff = time.Second
	}
}

func (b *Bus) consumeOnce(ctx context.Context) error {
	pubsub := b.redis.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("events redis subscription established", "pattern", channelPrefix+"*"+channelSuffix)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			if err := b.persistAndBroadcast(ctx, evt); err != nil {
				b.logger.Warn("events persist after redis delivery failed", "tenant_id", evt.TenantID, "error", err)
			}
		}
	}
}

func (b *Bus) persistAndBroadcast(ctx context.Context, evt Event) error {
	if evt.TenantID == "" {
		return nil
	}
	if evt.Type == "" {
		evt.Type = "runtime.log"
	}
	if evt.Payload == nil {
		evt.Payload = map[string]any{}
	}

	row, err := b.q.InsertRuntimeEvent(ctx, evt.TenantID, evt.Type, evt.Payload)
	if err != nil {
		return err
	}

	if err := b.projectRuntimeState(ctx, evt.TenantID, evt.Type, evt.Payload); err != nil {
		b.logger.Warn("runtime state projection failed", "tenant_id", evt.TenantID, "error", err)
	}

	wire := Event{
		EventID:   row.ID,
		TenantID:  row.TenantID,
		Type:      row.Type,
		Payload:   row.Payload,
		CreatedAt: row.CreatedAt,
	}
	b.registry.Broadcast(evt.TenantID, wire)
	return nil
}
