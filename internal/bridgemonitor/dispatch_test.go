package bridgemonitor

import "testing"

func TestNormalizeEventName(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"bridge:connected", "bridge.connected"},
		{"BRIDGE_DISCONNECTED", "bridge.disconnected"},
		{"qr_code", "bridge.qr"},
		{"receipt", "bridge.delivery_receipt"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			if got := normalizeEventName(tc.raw); got != tc.want {
				t.Fatalf("normalizeEventName(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestExtractQRPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
		wantOK  bool
	}{
		{"qr key", map[string]any{"qr": "abc123"}, "abc123", true},
		{"qr_code key", map[string]any{"qr_code": "def456"}, "def456", true},
		{"no qr", map[string]any{"foo": "bar"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractQRPayload(tc.payload)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("extractQRPayload(%v) = (%q, %v), want (%q, %v)", tc.payload, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestExtractPayload(t *testing.T) {
	msg := map[string]any{"payload": map[string]any{"a": 1}}
	got := extractPayload(msg)
	if got["a"] != 1 {
		t.Fatalf("expected payload key, got %v", got)
	}

	msg2 := map[string]any{"data": map[string]any{"b": 2}}
	got2 := extractPayload(msg2)
	if got2["b"] != 2 {
		t.Fatalf("expected data fallback, got %v", got2)
	}

	msg3 := map[string]any{}
	got3 := extractPayload(msg3)
	if len(got3) != 0 {
		t.Fatalf("expected empty payload, got %v", got3)
	}
}
