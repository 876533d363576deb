// Package bridgemonitor implements the Runner's Bridge Monitor (§4.7): one
// supervisor goroutine per tenant, holding a WebSocket connection to that
// tenant's runtime container and republishing its events onto the Event
// Bus, with exponential backoff and startup/reconnect error-suppression
// grace periods (grounded on the original TenantMonitor supervisor).
package bridgemonitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexusruntime/nexus/internal/runnerpublish"
)

const (
	startupGrace           = 15 * time.Second
	reconnectGrace         = 20 * time.Second
	runtimeErrorCooldown   = 10 * time.Second
	minBackoff             = time.Second
	maxBackoff             = 30 * time.Second
	dialTimeout            = 10 * time.Second
)

// WSDialer abstracts dialing the tenant runtime's WebSocket endpoint so
// tests can substitute a fake.
type WSDialer interface {
	Dial(ctx context.Context, url string, headers map[string]string) (*websocket.Conn, error)
}

// DefaultDialer dials with gorilla/websocket directly.
type DefaultDialer struct{}

func (DefaultDialer) Dial(ctx context.Context, url string, headers map[string]string) (*websocket.Conn, error) {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, h)
	return conn, err
}

// RuntimeLocator resolves a tenant's bridge WebSocket URL and headers,
// satisfied by *runtimemanager.Manager.
type RuntimeLocator interface {
	BridgeWSURL(tenantID string) string
	BridgeWSHeaders(tenantID string) (map[string]string, error)
}

// Monitor supervises one WebSocket connection per tenant.
type Monitor struct {
	dialer    WSDialer
	locator   RuntimeLocator
	publisher *runnerpublish.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
}

// New constructs a Monitor.
func New(locator RuntimeLocator, publisher *runnerpublish.Publisher, logger *slog.Logger) *Monitor {
	return &Monitor{
		dialer:    DefaultDialer{},
		locator:   locator,
		publisher: publisher,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
		done:      make(map[string]chan struct{}),
	}
}

// Start begins supervising tenantID, if not already supervised.
func (m *Monitor) Start(ctx context.Context, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cancels[tenantID]; ok {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancels[tenantID] = cancel
	m.done[tenantID] = done
	go func() {
		defer close(done)
		m.run(runCtx, tenantID)
	}()
}

// Stop ends supervision of one tenant, waiting for its goroutine to exit.
func (m *Monitor) Stop(tenantID string) {
	m.mu.Lock()
	cancel, ok := m.cancels[tenantID]
	done := m.done[tenantID]
	delete(m.cancels, tenantID)
	delete(m.done, tenantID)
	m.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	<-done
}

// Shutdown stops every supervised tenant.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.cancels))
	for id := range m.cancels {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

// ActiveCount returns the number of tenants currently supervised.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// MonitoredTenantIDs lists the tenants currently supervised.
func (m *Monitor) MonitoredTenantIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.cancels))
	for id := range m.cancels {
		ids = append(ids, id)
	}
	return ids
}

// run is the per-tenant supervisor loop: dial, read messages until the
// connection drops, then reconnect with exponential backoff, suppressing
// noisy error events during the startup and reconnect grace windows.
func (m *Monitor) run(ctx context.Context, tenantID string) {
	backoff := minBackoff
	connectedOnce := false
	startupGraceUntil := time.Now().Add(startupGrace)
	var nextRuntimeErrorAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		url := m.locator.BridgeWSURL(tenantID)
		headers, err := m.locator.BridgeWSHeaders(tenantID)
		if err != nil {
			m.logger.Warn("bridge monitor could not resolve headers", "tenant_id", tenantID, "error", err)
		}

		conn, dialErr := m.dialer.Dial(ctx, url, headers)
		if dialErr != nil {
			m.maybePublishError(tenantID, dialErr, connectedOnce, startupGraceUntil, &nextRuntimeErrorAt)
			if !m.sleepBackoff(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = minBackoff
		connectedOnce = true
		lastConnectedAt := time.Now()

		readErr := m.readLoop(ctx, tenantID, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		reconnectGraceUntil := lastConnectedAt.Add(reconnectGrace)
		if time.Now().Before(reconnectGraceUntil) {
			// within reconnect grace: suppress the error, just retry quickly
		} else {
			m.maybePublishError(tenantID, readErr, connectedOnce, startupGraceUntil, &nextRuntimeErrorAt)
		}

		if !m.sleepBackoff(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (m *Monitor) sleepBackoff(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// maybePublishError emits a runtime.error event for a connection failure,
// unless we're still within the startup grace window (tenant runtime
// hasn't had time to boot) or the per-tenant error-publish cooldown.
func (m *Monitor) maybePublishError(tenantID string, err error, connectedOnce bool, startupGraceUntil time.Time, nextRuntimeErrorAt *time.Time) {
	if err == nil {
		return
	}
	if !isTransientMonitorError(err) {
		return
	}
	if !connectedOnce && time.Now().Before(startupGraceUntil) {
		return
	}
	now := time.Now()
	if now.Before(*nextRuntimeErrorAt) {
		return
	}
	*nextRuntimeErrorAt = now.Add(runtimeErrorCooldown)

	m.publisher.Publish(context.Background(), tenantID, "runtime.error", map[string]any{
		"message": err.Error(),
	})
}

// isTransientMonitorError classifies dial/read failures the way the
// teacher's _is_transient_monitor_error does: network errors and the
// handful of expected WebSocket close/handshake error shapes.
func isTransientMonitorError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if websocket.IsUnexpectedCloseError(err) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection closed", "invalid status", "handshake", "eof", "broken pipe", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// readLoop reads frames until the connection fails, normalizing and
// dispatching each one, returning the terminal error.
func (m *Monitor) readLoop(ctx context.Context, tenantID string, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		m.handleMessage(tenantID, msg)
	}
}
