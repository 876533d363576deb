package orchestrator

// tenantSecretPayload is the plaintext shape sealed into TenantSecret's
// encrypted blob: one JSON object carrying every per-tenant secret the
// orchestrator manages, so the wire/storage representation never needs a
// schema migration when a new field is added (§9, "Dynamic JSON blobs in
// secrets").
type tenantSecretPayload struct {
	BridgeSharedSecret       string             `json:"bridge_shared_secret,omitempty"`
	AssistantDefaultsVersion string             `json:"assistant_defaults_version,omitempty"`
	Google                   *googleSecretBlock `json:"google,omitempty"`
	GoogleOAuthLastError     string             `json:"google_oauth_last_error,omitempty"`
}

type googleSecretBlock struct {
	TokenJSON   map[string]any `json:"token_json"`
	Scopes      []string       `json:"scopes"`
	ConnectedAt string         `json:"connected_at"`
}
