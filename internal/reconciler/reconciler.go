// Package reconciler implements the Runner's periodic reconcile loop
// (§4.8): every sweep, it unions on-disk tenant directories with actually
// running containers, checks each one's real state, and republishes a
// runtime.status event for every one of them on every sweep —
// grounded on the original main.py's _reconcile_loop.
package reconciler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nexusruntime/nexus/internal/bridgemonitor"
	"github.com/nexusruntime/nexus/internal/runnerpublish"
	"github.com/nexusruntime/nexus/internal/runtimemanager"
)

const sweepInterval = 30 * time.Second

// Reconciler periodically reasserts the observed state of every tenant
// runtime present on disk or running in docker.
type Reconciler struct {
	manager   *runtimemanager.Manager
	monitor   *bridgemonitor.Monitor
	publisher *runnerpublish.Publisher
	logger    *slog.Logger

	mu              sync.Mutex
	lastReconcileAt time.Time
}

// New constructs a Reconciler.
func New(manager *runtimemanager.Manager, monitor *bridgemonitor.Monitor, publisher *runnerpublish.Publisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{manager: manager, monitor: monitor, publisher: publisher, logger: logger}
}

// Run blocks, sweeping every 30s until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// LastReconcileAt reports when the most recent sweep completed, for the
// tenant health endpoint (§4.8/health response).
func (r *Reconciler) LastReconcileAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReconcileAt
}

func (r *Reconciler) sweep(ctx context.Context) {
	onDisk, err := r.onDiskTenantIDs()
	if err != nil {
		r.logger.Warn("reconciler could not list on-disk tenants", "error", err)
	}

	running, err := r.manager.ListRunningTenantIDs(ctx)
	if err != nil {
		r.logger.Warn("reconciler could not list running containers", "error", err)
	}

	union := map[string]struct{}{}
	for _, id := range onDisk {
		union[id] = struct{}{}
	}
	for _, id := range running {
		union[id] = struct{}{}
	}

	for id := range union {
		r.reconcileOne(ctx, id)
	}

	r.mu.Lock()
	r.lastReconcileAt = time.Now()
	r.mu.Unlock()
}

func (r *Reconciler) reconcileOne(ctx context.Context, tenantID string) {
	running, _, err := r.manager.IsRunning(ctx, tenantID)
	if err != nil {
		r.logger.Warn("reconciler is_running check failed", "tenant_id", tenantID, "error", err)
		return
	}

	if running {
		r.monitor.Start(ctx, tenantID)
		r.publisher.Publish(ctx, tenantID, "runtime.status", map[string]any{"state": "running"})
		return
	}

	r.monitor.Stop(tenantID)
	r.publisher.Publish(ctx, tenantID, "runtime.status", map[string]any{"state": "paused"})
}

func (r *Reconciler) onDiskTenantIDs() ([]string, error) {
	entries, err := os.ReadDir(r.manager.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if runtimemanager.ValidateTenantID(entry.Name()) == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
