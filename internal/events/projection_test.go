package events

import "testing"

func TestMapEventToState(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		payload   map[string]any
		wantState string
		wantError string
	}{
		{"status running", "runtime.status", map[string]any{"state": "running"}, "running", ""},
		{"status error with message", "runtime.status", map[string]any{"state": "error", "message": "boom"}, "error", "boom"},
		{"status error fallback message", "runtime.status", map[string]any{"state": "error"}, "error", "runtime_error"},
		{"status missing state", "runtime.status", map[string]any{}, "", ""},
		{"runtime error", "runtime.error", map[string]any{"error": "panic"}, "error", "panic"},
		{"whatsapp connected", "whatsapp.connected", map[string]any{}, "running", ""},
		{"whatsapp disconnected", "whatsapp.disconnected", map[string]any{}, "pending_pairing", ""},
		{"unrelated event", "runtime.log", map[string]any{}, "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state, errMsg := mapEventToState(tc.eventType, tc.payload)
			if state != tc.wantState {
				t.Fatalf("state = %q, want %q", state, tc.wantState)
			}
			if errMsg != tc.wantError {
				t.Fatalf("errMsg = %q, want %q", errMsg, tc.wantError)
			}
		})
	}
}
