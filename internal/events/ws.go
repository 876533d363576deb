package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexusruntime/nexus/internal/db"
)

const (
	keepaliveTimeout = 45 * time.Second
	writeWait        = 10 * time.Second
	defaultReplay    = 20
	maxReplay        = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlFrame is the envelope for server-originated control messages
// (ws.ready, ws.keepalive) — distinct from data events only by type.
type controlFrame struct {
	Type     string         `json:"type"`
	TenantID string         `json:"tenant_id"`
	Payload  map[string]any `json:"payload"`
}

// Registry tracks the live WebSocket connections subscribed to each
// tenant's event stream (§4.5.2).
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[*websocket.Conn]struct{})}
}

func (r *Registry) register(tenantID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[tenantID] == nil {
		r.conns[tenantID] = make(map[*websocket.Conn]struct{})
	}
	r.conns[tenantID][conn] = struct{}{}
}

func (r *Registry) unregister(tenantID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns[tenantID], conn)
}

// Broadcast sends an event to every connection currently subscribed to
// tenantID, dropping (and later cleaning up) any that fail to write.
func (r *Registry) Broadcast(tenantID string, evt Event) {
	r.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(r.conns[tenantID]))
	for c := range r.conns[tenantID] {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	var dead []*websocket.Conn
	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(evt); err != nil {
			dead = append(dead, c)
		}
	}
	if len(dead) > 0 {
		r.mu.Lock()
		for _, c := range dead {
			delete(r.conns[tenantID], c)
		}
		r.mu.Unlock()
	}
}

// RejectUnauthorized upgrades the connection only long enough to close it
// with code 1008, per the wire contract's auth-failure/foreign-tenant
// behavior. The caller has already decided the request is unauthorized;
// this exists because a WebSocket close code can only be sent after the
// HTTP upgrade completes.
func RejectUnauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait))
}

// ReplayParams controls how much history ServeTenantEvents sends before
// switching to live delivery (§6, `replay`/`after_event_id` query params).
type ReplayParams struct {
	Limit        int32
	AfterEventID int64
}

// ServeTenantEvents upgrades an HTTP request to a WebSocket, replays the
// tenant's recent event log in ascending event_id order, sends a ws.ready
// control frame, then streams live events until the client disconnects or
// ctx is cancelled, sending a ws.keepalive control frame every 45s.
// Call sites are expected to have already authorized the caller for
// tenantID; use RejectUnauthorized otherwise.
func (b *Bus) ServeTenantEvents(w http.ResponseWriter, r *http.Request, tenantID string, replay ReplayParams) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.registry.register(tenantID, conn)
	defer b.registry.unregister(tenantID, conn)

	if err := b.replayRecent(r.Context(), tenantID, conn, replay); err != nil {
		b.logger.Warn("event replay failed", "tenant_id", tenantID, "error", err)
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(controlFrame{Type: "ws.ready", TenantID: tenantID, Payload: map[string]any{}}); err != nil {
		return err
	}

	return b.pumpUntilClosed(r.Context(), conn, tenantID)
}

func (b *Bus) replayRecent(ctx context.Context, tenantID string, conn *websocket.Conn, params ReplayParams) error {
	limit := params.Limit
	if limit <= 0 {
		if limit < 0 {
			return nil
		}
		limit = defaultReplay
	}
	if limit > maxReplay {
		limit = maxReplay
	}

	rows, err := b.q.ListRecentRuntimeEvents(ctx, tenantID, params.AfterEventID, limit)
	if err != nil {
		return err
	}
	for _, row := range rows {
		wire := rowToEvent(row)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(wire); err != nil {
			return err
		}
	}
	return nil
}

func rowToEvent(row db.RuntimeEvent) Event {
	return Event{
		EventID:   row.ID,
		TenantID:  row.TenantID,
		Type:      row.Type,
		Payload:   row.Payload,
		CreatedAt: row.CreatedAt,
	}
}

// pumpUntilClosed sends a ws.keepalive control frame every 45s; inbound
// frames are read and discarded and do not reset that timer. Any read
// error, including a normal client-initiated close, ends the loop.
func (b *Bus) pumpUntilClosed(ctx context.Context, conn *websocket.Conn, tenantID string) error {
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	timer := time.NewTimer(keepaliveTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-timer.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			frame := controlFrame{Type: "ws.keepalive", TenantID: tenantID, Payload: map[string]any{}}
			if err := conn.WriteJSON(frame); err != nil {
				return err
			}
			timer.Reset(keepaliveTimeout)
		}
	}
}
