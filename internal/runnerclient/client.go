// Package runnerclient is the Control Plane's HTTP client for the Runner's
// internal API (§6): every call carries a fresh per-action runner token and
// surfaces the Runner's own error code/status verbatim, grounded directly
// on original_source's runner_client.py.
package runnerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexusruntime/nexus/internal/tokens"
)

// Error carries the Runner's reported code, HTTP status, and message,
// mirroring the original RunnerError.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Client calls the Runner's internal tenant-management API.
type Client struct {
	baseURL string
	tokens  *tokens.Service
	http    *http.Client
}

// New constructs a Client.
func New(baseURL string, tokenService *tokens.Service) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokenService,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *Client) request(ctx context.Context, method, path, tenantID, action string, body any) (map[string]any, error) {
	token, err := c.tokens.IssueRunnerToken(tenantID, action)
	if err != nil {
		return nil, &Error{StatusCode: http.StatusInternalServerError, Code: "runner_token_issue_failed", Message: err.Error()}
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{StatusCode: http.StatusInternalServerError, Code: "runner_request_marshal_failed", Message: err.Error()}
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &Error{StatusCode: http.StatusInternalServerError, Code: "runner_request_build_failed", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{StatusCode: http.StatusBadGateway, Code: "runner_http_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		code := "runner_error"
		message := string(raw)
		var parsed struct {
			Detail json.RawMessage `json:"detail"`
		}
		if json.Unmarshal(raw, &parsed) == nil && len(parsed.Detail) > 0 {
			var structured struct {
				Error   string `json:"error"`
				Message string `json:"message"`
			}
			if json.Unmarshal(parsed.Detail, &structured) == nil && structured.Error != "" {
				code = structured.Error
				message = structured.Message
			} else {
				var asString string
				if json.Unmarshal(parsed.Detail, &asString) == nil && asString != "" {
					message = asString
				}
			}
		}
		return nil, &Error{StatusCode: resp.StatusCode, Code: code, Message: message}
	}

	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{StatusCode: http.StatusBadGateway, Code: "runner_response_decode_failed", Message: err.Error()}
	}
	return out, nil
}

// Provision calls POST /internal/tenants/{id}/provision.
func (c *Client) Provision(ctx context.Context, tenantID string, payload map[string]any) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/provision", tenantID, "provision", payload)
}

// Start calls POST /internal/tenants/{id}/start.
func (c *Client) Start(ctx context.Context, tenantID string, payload map[string]any) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/start", tenantID, "start", payload)
}

// Stop calls POST /internal/tenants/{id}/stop.
func (c *Client) Stop(ctx context.Context, tenantID string) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/stop", tenantID, "stop", nil)
}

// Restart calls POST /internal/tenants/{id}/restart.
func (c *Client) Restart(ctx context.Context, tenantID string, payload map[string]any) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/restart", tenantID, "restart", payload)
}

// PairStart calls POST /internal/tenants/{id}/pair/start.
func (c *Client) PairStart(ctx context.Context, tenantID string, payload map[string]any) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/pair/start", tenantID, "pair_start", payload)
}

// Disconnect calls POST /internal/tenants/{id}/whatsapp/disconnect.
func (c *Client) Disconnect(ctx context.Context, tenantID string) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/whatsapp/disconnect", tenantID, "whatsapp_disconnect", nil)
}

// ApplyConfig calls POST /internal/tenants/{id}/apply-config.
func (c *Client) ApplyConfig(ctx context.Context, tenantID string, payload map[string]any) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/apply-config", tenantID, "apply_config", payload)
}

// Health calls GET /internal/tenants/{id}/health.
func (c *Client) Health(ctx context.Context, tenantID string) (map[string]any, error) {
	return c.request(ctx, http.MethodGet, "/internal/tenants/"+tenantID+"/health", tenantID, "health", nil)
}

// Delete calls DELETE /internal/tenants/{id}.
func (c *Client) Delete(ctx context.Context, tenantID string) (map[string]any, error) {
	return c.request(ctx, http.MethodDelete, "/internal/tenants/"+tenantID, tenantID, "delete", nil)
}

// GoogleConnect calls POST /internal/tenants/{id}/google/connect, handing the
// Runner the tenant's freshly linked Google credentials.
func (c *Client) GoogleConnect(ctx context.Context, tenantID string, payload map[string]any) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/google/connect", tenantID, "google_connect", payload)
}

// GoogleDisconnect calls POST /internal/tenants/{id}/google/disconnect.
func (c *Client) GoogleDisconnect(ctx context.Context, tenantID string) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, "/internal/tenants/"+tenantID+"/google/disconnect", tenantID, "google_disconnect", nil)
}
