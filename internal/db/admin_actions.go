package db

import (
	"context"
	"encoding/json"
	"fmt"
)

// InsertAdminAction records an auditable admin-initiated action against a
// tenant (provision, config apply, pairing restart, deletion, ...).
func (q *Queries) InsertAdminAction(ctx context.Context, actorUserID int64, tenantID, action string, payload map[string]any) (AdminAction, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return AdminAction{}, fmt.Errorf("marshaling admin action payload: %w", err)
	}

	var a AdminAction
	var raw []byte
	err = q.db.QueryRow(ctx, `
		INSERT INTO admin_actions (actor_user_id, tenant_id, action, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, actor_user_id, tenant_id, action, payload, created_at
	`, actorUserID, tenantID, action, payloadJSON).Scan(&a.ID, &a.ActorUserID, &a.TenantID, &a.Action, &raw, &a.CreatedAt)
	if err != nil {
		return AdminAction{}, fmt.Errorf("inserting admin action: %w", err)
	}
	if err := json.Unmarshal(raw, &a.Payload); err != nil {
		return AdminAction{}, fmt.Errorf("unmarshaling admin action payload: %w", err)
	}
	return a, nil
}

// ListAdminActionsForTenant returns a tenant's audit trail, most recent first.
func (q *Queries) ListAdminActionsForTenant(ctx context.Context, tenantID string, limit int32) ([]AdminAction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, actor_user_id, tenant_id, action, payload, created_at
		FROM admin_actions
		WHERE tenant_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing admin actions: %w", err)
	}
	defer rows.Close()

	var result []AdminAction
	for rows.Next() {
		var a AdminAction
		var raw []byte
		if err := rows.Scan(&a.ID, &a.ActorUserID, &a.TenantID, &a.Action, &raw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning admin action: %w", err)
		}
		if err := json.Unmarshal(raw, &a.Payload); err != nil {
			return nil, fmt.Errorf("unmarshaling admin action payload: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
