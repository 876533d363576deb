// Package runtimemanager implements the Runner's Runtime Manager (§4.6):
// per-tenant filesystem layout, Docker Compose rendering, and container
// lifecycle operations, all driven by shelling out to the docker CLI the
// way the host already manages tenant runtimes outside this program.
package runtimemanager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Error codes from §4.6/§8's runtime error taxonomy.
const (
	ErrInvalidTenantID     = "invalid_tenant_id"
	ErrInvalidTenantPath   = "invalid_tenant_path"
	ErrInvalidConfigItem   = "invalid_config_item"
	ErrUnsafePath          = "unsafe_path"
	ErrTenantNotFound      = "tenant_not_found"
	ErrComposeMissing      = "compose_missing"
	ErrTemplateMissing     = "template_missing"
	ErrDockerUnavailable   = "docker_unavailable"
	ErrDockerCommandFailed = "docker_command_failed"
	ErrNexusImageInvalid   = "nexus_image_invalid"
)

// RuntimeError carries one of the codes above plus a human message, mapped
// to HTTP status by the runner's internal API handlers (§4.6/§8).
type RuntimeError struct {
	Code    string
	Message string
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newErr(code, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	tenantIDPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,63}$`)
	configItemPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
)

// nexusImagePlaceholders are template markers left in an unconfigured image
// reference; any of these appearing in a caller-supplied image is rejected.
var nexusImagePlaceholders = []string{"replace_with", "your-org", "<org>"}

const bridgeSharedSecretKey = "BRIDGE_SHARED_SECRET"

const (
	legacyConfigROMount = ":/data/config:ro"
	configRWMount       = ":/data/config"
)

// Manager materializes and supervises one tenant runtime per directory
// under Root, via docker compose and the docker CLI.
type Manager struct {
	Root           string
	Network        string
	ComposeProject string
	BridgePort     int

	TemplateComposePath string
	TemplateEnvPath     string
}

// New constructs a Manager rooted at root, serving tenant runtimes attached
// to the given Docker network.
func New(root, network string, bridgePort int, templateComposePath, templateEnvPath string) *Manager {
	return &Manager{
		Root:                root,
		Network:             network,
		ComposeProject:      "nexus",
		BridgePort:          bridgePort,
		TemplateComposePath: templateComposePath,
		TemplateEnvPath:     templateEnvPath,
	}
}

// ValidateTenantID checks the tenant id against the spec's slug pattern.
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return newErr(ErrInvalidTenantID, "tenant id %q does not match the required pattern", tenantID)
	}
	return nil
}

// validateConfigItemName checks a prompt/skill file stem against the
// spec's config-item pattern.
func validateConfigItemName(name string) error {
	if !configItemPattern.MatchString(name) {
		return newErr(ErrInvalidConfigItem, "config item name %q does not match the required pattern", name)
	}
	return nil
}

// tenantDir resolves and path-escape-checks a tenant's root directory.
func (m *Manager) tenantDir(tenantID string) (string, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	root, err := filepath.Abs(m.Root)
	if err != nil {
		return "", newErr(ErrInvalidTenantPath, "resolving tenant root: %v", err)
	}
	dir := filepath.Join(root, tenantID)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", newErr(ErrUnsafePath, "tenant path for %q escapes the tenant root", tenantID)
	}
	return dir, nil
}

func (m *Manager) envDir(tenantID string) (string, error) {
	dir, err := m.tenantDir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "env"), nil
}

func (m *Manager) configDir(tenantID string) (string, error) {
	dir, err := m.tenantDir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config"), nil
}

func (m *Manager) promptsDir(tenantID string) (string, error) {
	dir, err := m.configDir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prompts"), nil
}

func (m *Manager) skillsDir(tenantID string) (string, error) {
	dir, err := m.configDir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "skills"), nil
}

func (m *Manager) googleDir(tenantID string) (string, error) {
	dir, err := m.configDir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "google"), nil
}

func (m *Manager) googleTokenPath(tenantID string) (string, error) {
	dir, err := m.googleDir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "token.json"), nil
}

func (m *Manager) composeFile(tenantID string) (string, error) {
	dir, err := m.tenantDir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "docker-compose.yml"), nil
}

func (m *Manager) runtimeEnvFile(tenantID string) (string, error) {
	dir, err := m.envDir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "runtime.env"), nil
}

// EnsureLayout creates every directory a tenant runtime needs, idempotently.
func (m *Manager) EnsureLayout(tenantID string) error {
	for _, fn := range []func(string) (string, error){m.envDir, m.configDir, m.promptsDir, m.skillsDir, m.googleDir} {
		dir, err := fn(tenantID)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// ValidateLayout confirms a tenant directory and its compose file exist.
func (m *Manager) ValidateLayout(tenantID string) error {
	dir, err := m.tenantDir(tenantID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newErr(ErrTenantNotFound, "tenant %q has no runtime directory", tenantID)
		}
		return fmt.Errorf("stat tenant dir: %w", err)
	}
	composeFile, err := m.composeFile(tenantID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(composeFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newErr(ErrComposeMissing, "tenant %q has no docker-compose.yml", tenantID)
		}
		return fmt.Errorf("stat compose file: %w", err)
	}
	return nil
}

// ValidateNexusImage rejects empty images and unconfigured placeholders
// (§4.6.1).
func ValidateNexusImage(image string) error {
	if strings.TrimSpace(image) == "" {
		return newErr(ErrNexusImageInvalid, "nexus image must not be empty")
	}
	for _, placeholder := range nexusImagePlaceholders {
		if strings.Contains(image, placeholder) {
			return newErr(ErrNexusImageInvalid, "nexus image %q still contains placeholder %q", image, placeholder)
		}
	}
	return nil
}

// DeleteTenantFiles removes a tenant's entire runtime directory. Refuses to
// act on an empty or root path as a last-ditch guard against a
// mis-constructed tenant directory.
func (m *Manager) DeleteTenantFiles(tenantID string) error {
	dir, err := m.tenantDir(tenantID)
	if err != nil {
		return err
	}
	if dir == "" || dir == string(filepath.Separator) {
		return newErr(ErrUnsafePath, "refusing to delete tenant path %q", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting tenant files: %w", err)
	}
	return nil
}

// BridgeWSURL is the in-network WebSocket URL the Bridge Monitor connects
// to for this tenant's runtime container.
func (m *Manager) BridgeWSURL(tenantID string) string {
	return fmt.Sprintf("ws://tenant_%s_runtime:%d", tenantID, m.BridgePort)
}

// BridgeWSHeaders returns the x-nexus-secret header the Bridge Monitor
// sends when dialing the tenant's runtime, read from its runtime.env, or
// nil if the tenant has no shared secret configured yet.
func (m *Manager) BridgeWSHeaders(tenantID string) (map[string]string, error) {
	env, err := m.ReadRuntimeEnv(tenantID)
	if err != nil {
		return nil, err
	}
	secret, ok := env[bridgeSharedSecretKey]
	if !ok || secret == "" {
		return nil, nil
	}
	return map[string]string{"x-nexus-secret": secret}, nil
}
