package bridgemonitor

import (
	"context"
	"strings"
)

// eventAliases maps normalized bridge event names to a canonical form
// before dispatch, mirroring the teacher's alias table.
var eventAliases = map[string]string{
	"qr_code":    "bridge.qr",
	"qrcode":     "bridge.qr",
	"message_in": "bridge.inbound_message",
	"receipt":    "bridge.delivery_receipt",
}

// normalizeEventName maps a raw name found verbatim in the alias table to
// its alias; any other name is lowercased with ":"/"_" separators replaced
// by ".".
func normalizeEventName(raw string) string {
	n := strings.ToLower(raw)
	n = strings.NewReplacer(":", ".", "_", ".").Replace(n)
	if alias, ok := eventAliases[raw]; ok {
		return alias
	}
	return n
}

func extractPayload(msg map[string]any) map[string]any {
	if p, ok := msg["payload"].(map[string]any); ok {
		return p
	}
	if d, ok := msg["data"].(map[string]any); ok {
		return d
	}
	return map[string]any{}
}

func extractQRPayload(payload map[string]any) (string, bool) {
	for _, key := range []string{"qr", "qr_code", "qrcode", "code"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// handleMessage dispatches one parsed bridge message onto the Event Bus
// (via the publisher), mirroring the teacher's _handle_message dispatch
// table exactly (§4.7).
func (m *Monitor) handleMessage(tenantID string, msg map[string]any) {
	eventNameRaw, _ := msg["event"].(string)
	if eventNameRaw == "" {
		eventNameRaw, _ = msg["type"].(string)
	}
	event := normalizeEventName(eventNameRaw)
	payload := extractPayload(msg)

	ctx := context.Background()

	switch event {
	case "bridge.qr":
		if qr, ok := extractQRPayload(payload); ok {
			m.publisher.Publish(ctx, tenantID, "whatsapp.qr", map[string]any{"qr": qr})
		} else {
			m.publisher.Publish(ctx, tenantID, "whatsapp.qr", payload)
		}
	case "bridge.connected":
		m.publisher.Publish(ctx, tenantID, "whatsapp.connected", map[string]any{})
		m.publisher.Publish(ctx, tenantID, "runtime.status", map[string]any{"state": "running"})
	case "bridge.disconnected":
		m.publisher.Publish(ctx, tenantID, "whatsapp.disconnected", map[string]any{})
		m.publisher.Publish(ctx, tenantID, "runtime.status", map[string]any{"state": "pending_pairing"})
	case "bridge.inbound_message", "bridge.delivery_receipt":
		m.publisher.Publish(ctx, tenantID, "whatsapp.connected", map[string]any{"source_event": event})
		m.publisher.Publish(ctx, tenantID, "runtime.status", map[string]any{"state": "running"})
	case "bridge.error":
		m.publisher.Publish(ctx, tenantID, "runtime.error", payload)
	case "bridge.ready":
		m.publisher.Publish(ctx, tenantID, "runtime.status", map[string]any{"state": "pending_pairing"})
	default:
		if strings.Contains(event, "qr") {
			if qr, ok := extractQRPayload(payload); ok {
				m.publisher.Publish(ctx, tenantID, "whatsapp.qr", map[string]any{"qr": qr})
				return
			}
		}
		m.publisher.Publish(ctx, tenantID, "runtime.log", map[string]any{"event": event, "payload": payload})
	}
}
