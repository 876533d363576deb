package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nexusruntime/nexus/internal/db"
)

// adminActionEntry is one audit log entry awaiting a flush, mirroring the
// admin_actions row it becomes.
type adminActionEntry struct {
	ActorUserID int64
	TenantID    string
	Action      string
	Payload     map[string]any
}

const auditBufferSize = 256

// auditWriter is an async, buffered writer onto the admin_actions audit
// trail (§3), grounded on the teacher's internal/audit.Writer: callers never
// block on the insert, and a full buffer drops the entry with a logged
// warning rather than backpressuring a privileged action.
type auditWriter struct {
	q      *db.Queries
	logger *slog.Logger

	entries chan adminActionEntry
	wg      sync.WaitGroup
}

func newAuditWriter(q *db.Queries, logger *slog.Logger) *auditWriter {
	return &auditWriter{
		q:       q,
		logger:  logger,
		entries: make(chan adminActionEntry, auditBufferSize),
	}
}

// Start runs the background flush loop until ctx is cancelled.
func (w *auditWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop waits for the flush loop to drain and exit.
func (w *auditWriter) Stop() { w.wg.Wait() }

// Log enqueues an admin action for async writing.
func (w *auditWriter) Log(entry adminActionEntry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("admin action audit buffer full, dropping entry",
			"tenant_id", entry.TenantID, "action", entry.Action)
	}
}

func (w *auditWriter) run(ctx context.Context) {
	for {
		select {
		case entry := <-w.entries:
			w.write(entry)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain flushes whatever is left in the channel once, for shutdown.
func (w *auditWriter) drain() {
	for {
		select {
		case entry := <-w.entries:
			w.write(entry)
		default:
			return
		}
	}
}

func (w *auditWriter) write(entry adminActionEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := w.q.InsertAdminAction(ctx, entry.ActorUserID, entry.TenantID, entry.Action, entry.Payload); err != nil {
		w.logger.Error("writing admin action", "error", err, "tenant_id", entry.TenantID, "action", entry.Action)
	}
}

// recordAdminAction enqueues an audit entry for a privileged action; it
// never blocks or fails the caller.
func (s *Service) recordAdminAction(actorUserID int64, tenantID, action string, payload map[string]any) {
	s.audit.Log(adminActionEntry{ActorUserID: actorUserID, TenantID: tenantID, Action: action, Payload: payload})
}

// Start begins the Service's background work (currently just the admin
// action audit writer).
func (s *Service) Start(ctx context.Context) { s.audit.Start(ctx) }

// Stop waits for the Service's background work to drain.
func (s *Service) Stop() { s.audit.Stop() }
