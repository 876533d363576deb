package db

import (
	"context"
	"encoding/json"
	"fmt"
)

// InsertRuntimeEvent persists a durable event row, the single write path the
// Event Log uses before broadcasting to WebSocket subscribers (§4.5).
func (q *Queries) InsertRuntimeEvent(ctx context.Context, tenantID, eventType string, payload map[string]any) (RuntimeEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return RuntimeEvent{}, fmt.Errorf("marshaling event payload: %w", err)
	}

	var e RuntimeEvent
	var raw []byte
	err = q.db.QueryRow(ctx, `
		INSERT INTO runtime_events (tenant_id, type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, tenant_id, type, payload, created_at
	`, tenantID, eventType, payloadJSON).Scan(&e.ID, &e.TenantID, &e.Type, &raw, &e.CreatedAt)
	if err != nil {
		return RuntimeEvent{}, fmt.Errorf("inserting runtime event: %w", err)
	}
	if err := json.Unmarshal(raw, &e.Payload); err != nil {
		return RuntimeEvent{}, fmt.Errorf("unmarshaling event payload: %w", err)
	}
	return e, nil
}

// ListRecentRuntimeEvents replays the tail of a tenant's event log: events
// with id > afterID, oldest first, capped at limit. A WebSocket subscriber
// calls this once on connect (afterID=0) to replay recent history before
// switching to the live feed (§4.5.2).
func (q *Queries) ListRecentRuntimeEvents(ctx context.Context, tenantID string, afterID int64, limit int32) ([]RuntimeEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, type, payload, created_at
		FROM (
			SELECT id, tenant_id, type, payload, created_at
			FROM runtime_events
			WHERE tenant_id = $1 AND id > $2
			ORDER BY id DESC
			LIMIT $3
		) recent
		ORDER BY id ASC
	`, tenantID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runtime events: %w", err)
	}
	defer rows.Close()

	var result []RuntimeEvent
	for rows.Next() {
		var e RuntimeEvent
		var raw []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning runtime event: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshaling event payload: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// LatestRuntimeEventID returns the highest event id recorded for a tenant,
// or 0 if the tenant has no events yet. Used to seed a fresh subscriber's
// replay cursor without a round trip through ListRecentRuntimeEvents.
func (q *Queries) LatestRuntimeEventID(ctx context.Context, tenantID string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(id), 0) FROM runtime_events WHERE tenant_id = $1
	`, tenantID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading latest runtime event id: %w", err)
	}
	return id, nil
}
