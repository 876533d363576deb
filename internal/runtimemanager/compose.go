package runtimemanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var runningTenantPattern = regexp.MustCompile(`^tenant_([a-z0-9_-]+)_runtime$`)

// manifestErrorMarkers are substrings in docker's stderr that indicate the
// image reference itself is bad, not a transient docker failure (§4.6.1).
var manifestErrorMarkers = []string{
	"manifest unknown", "not found", "name unknown", "pull access denied", "unauthorized",
}

func (m *Manager) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return out, newErr(ErrDockerUnavailable, "docker CLI unavailable: %v", execErr)
		}
		return out, newErr(ErrDockerCommandFailed, "docker %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// DockerAvailable reports whether the docker CLI can be invoked at all.
func (m *Manager) DockerAvailable(ctx context.Context) bool {
	_, err := m.run(ctx, "version", "--format", "{{.Server.Version}}")
	return err == nil
}

// ValidateNexusImage is also exposed as a method for symmetry with the
// other validators; it just delegates to the package function.
func (m *Manager) ValidateNexusImage(image string) error { return ValidateNexusImage(image) }

// EnsureNexusImageAvailable checks the image locally, then via the
// registry manifest, classifying "the image doesn't exist" separately
// from "docker itself failed" (§4.6.1).
func (m *Manager) EnsureNexusImageAvailable(ctx context.Context, image string) error {
	if err := ValidateNexusImage(image); err != nil {
		return err
	}
	if _, err := m.run(ctx, "image", "inspect", image); err == nil {
		return nil
	}

	out, err := m.run(ctx, "manifest", "inspect", image)
	if err == nil {
		return nil
	}
	lower := strings.ToLower(string(out) + err.Error())
	for _, marker := range manifestErrorMarkers {
		if strings.Contains(lower, marker) {
			return newErr(ErrNexusImageInvalid, "nexus image %q not found: %s", image, strings.TrimSpace(string(out)))
		}
	}
	var rerr *RuntimeError
	if errors.As(err, &rerr) && rerr.Code == ErrDockerUnavailable {
		return err
	}
	return newErr(ErrDockerCommandFailed, "checking nexus image %q: %v", image, err)
}

// ListRunningTenantIDs returns the tenant ids with a currently-running
// runtime container, parsed from `docker ps` container names.
func (m *Manager) ListRunningTenantIDs(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "ps", "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		if match := runningTenantPattern.FindStringSubmatch(line); match != nil {
			ids = append(ids, match[1])
		}
	}
	return ids, nil
}

// IsRunning reports whether tenantID's runtime container is up, and the
// raw status text docker reports for it (§4.6.6).
func (m *Manager) IsRunning(ctx context.Context, tenantID string) (bool, string, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return false, "", err
	}
	out, err := m.run(ctx, "ps", "--filter", fmt.Sprintf("name=tenant_%s_runtime", tenantID), "--format", "{{.Status}}")
	if err != nil {
		return false, "", err
	}
	status := strings.TrimSpace(string(out))
	return status != "", status, nil
}

func (m *Manager) composeArgs(tenantID string, extra ...string) ([]string, string, error) {
	composeFile, err := m.composeFile(tenantID)
	if err != nil {
		return nil, "", err
	}
	envFile, err := m.runtimeEnvFile(tenantID)
	if err != nil {
		return nil, "", err
	}
	dir, err := m.tenantDir(tenantID)
	if err != nil {
		return nil, "", err
	}
	args := []string{"compose", "-f", composeFile, "--project-name", "tenant_" + tenantID, "--env-file", envFile}
	args = append(args, extra...)
	return args, dir, nil
}

func (m *Manager) runCompose(ctx context.Context, tenantID string, extra ...string) error {
	args, dir, err := m.composeArgs(tenantID, extra...)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return newErr(ErrDockerUnavailable, "docker CLI unavailable: %v", execErr)
		}
		return newErr(ErrDockerCommandFailed, "docker %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ComposeUp brings a tenant's runtime up for the first time, validating the
// image if one is given (§4.6.4).
func (m *Manager) ComposeUp(ctx context.Context, tenantID, nexusImage string) error {
	if err := m.ValidateLayout(tenantID); err != nil {
		return err
	}
	if nexusImage != "" {
		if err := m.EnsureNexusImageAvailable(ctx, nexusImage); err != nil {
			return err
		}
	}
	return m.runCompose(ctx, tenantID, "up", "-d")
}

// ComposeStart migrates the legacy config mount and, if a new image is
// given, validates and rewrites it in place, then brings the runtime up.
func (m *Manager) ComposeStart(ctx context.Context, tenantID, nexusImage string) error {
	if err := m.ValidateLayout(tenantID); err != nil {
		return err
	}
	if err := m.migrateComposeFile(tenantID, nexusImage); err != nil {
		return err
	}
	if nexusImage != "" {
		if err := m.EnsureNexusImageAvailable(ctx, nexusImage); err != nil {
			return err
		}
	}
	return m.runCompose(ctx, tenantID, "up", "-d")
}

// ComposeRestart migrates the image (if given) and re-ups, or plainly
// restarts if no new image was supplied (§4.6.4).
func (m *Manager) ComposeRestart(ctx context.Context, tenantID, nexusImage string) error {
	if err := m.ValidateLayout(tenantID); err != nil {
		return err
	}
	if nexusImage != "" {
		if err := m.migrateComposeFile(tenantID, nexusImage); err != nil {
			return err
		}
		if err := m.EnsureNexusImageAvailable(ctx, nexusImage); err != nil {
			return err
		}
		return m.runCompose(ctx, tenantID, "up", "-d")
	}
	return m.runCompose(ctx, tenantID, "restart")
}

// ComposeStop stops (without removing) a tenant's runtime containers.
func (m *Manager) ComposeStop(ctx context.Context, tenantID string) error {
	if err := m.ValidateLayout(tenantID); err != nil {
		return err
	}
	return m.runCompose(ctx, tenantID, "stop")
}

// ComposeDown tears a tenant's runtime down, optionally removing volumes.
func (m *Manager) ComposeDown(ctx context.Context, tenantID string, removeVolumes bool) error {
	if err := m.ValidateLayout(tenantID); err != nil {
		return err
	}
	args := []string{"down"}
	if removeVolumes {
		args = append(args, "-v")
	}
	return m.runCompose(ctx, tenantID, args...)
}

// migrateComposeFile rewrites the tenant's on-disk compose file in place
// for the legacy mount and (if nexusImage given) the runtime image,
// writing back only if something actually changed.
func (m *Manager) migrateComposeFile(tenantID, nexusImage string) error {
	path, err := m.composeFile(tenantID)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newErr(ErrComposeMissing, "tenant %q has no docker-compose.yml", tenantID)
		}
		return fmt.Errorf("reading compose file: %w", err)
	}

	content := string(raw)
	changed := false

	if migrated, didChange := migrateLegacyConfigMount(content); didChange {
		content = migrated
		changed = true
	}
	if nexusImage != "" {
		if migrated, didChange := migrateComposeImage(content, nexusImage); didChange {
			content = migrated
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return os.WriteFile(path, []byte(content), 0o640)
}

// sessionVolumeCandidates lists fallback volume names to probe when mount
// inspection can't find the runtime container (§4.6.5).
func (m *Manager) sessionVolumeCandidates(tenantID string) []string {
	return []string{
		fmt.Sprintf("%s_tenant_%s_session", m.ComposeProject, tenantID),
		fmt.Sprintf("tenant_%s_session", tenantID),
	}
}

type dockerMount struct {
	Destination string `json:"Destination"`
	Name        string `json:"Name"`
}

// resolveSessionVolumeFromMount inspects the running container's mounts and
// returns the volume name backing /data/session.
func (m *Manager) resolveSessionVolumeFromMount(ctx context.Context, tenantID string) (string, error) {
	out, err := m.run(ctx, "inspect", "--format", "{{json .Mounts}}", fmt.Sprintf("tenant_%s_runtime", tenantID))
	if err != nil {
		return "", err
	}
	var mounts []dockerMount
	if err := json.Unmarshal(out, &mounts); err != nil {
		return "", fmt.Errorf("parsing container mounts: %w", err)
	}
	for _, mnt := range mounts {
		if mnt.Destination == "/data/session" {
			return mnt.Name, nil
		}
	}
	return "", newErr(ErrDockerCommandFailed, "no /data/session mount found for tenant %q", tenantID)
}

// resolveSessionVolume finds the session volume via the running container's
// mounts, falling back to guessing candidate names when the container
// doesn't exist (§4.6.5). No container and no candidate volume is the
// first-pairing case, not a failure: it returns ("", nil) so the caller
// treats a missing volume as already-clean.
func (m *Manager) resolveSessionVolume(ctx context.Context, tenantID string) (string, error) {
	name, err := m.resolveSessionVolumeFromMount(ctx, tenantID)
	if err == nil {
		return name, nil
	}
	if !strings.Contains(strings.ToLower(err.Error()), "no such container") {
		return "", err
	}
	for _, candidate := range m.sessionVolumeCandidates(tenantID) {
		if _, inspectErr := m.run(ctx, "volume", "inspect", candidate); inspectErr == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// ClearSessionVolume force-removes the runtime container and its session
// volume, preparing the tenant for a fresh pairing. Both removals are
// idempotent on "no such container"/"no such volume" (§4.6.5).
func (m *Manager) ClearSessionVolume(ctx context.Context, tenantID string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}

	volume, volErr := m.resolveSessionVolume(ctx, tenantID)

	if _, err := m.run(ctx, "rm", "-f", fmt.Sprintf("tenant_%s_runtime", tenantID)); err != nil {
		if !isNoSuchIgnorable(err) {
			return err
		}
	}

	if volErr != nil {
		if isNoSuchIgnorable(volErr) {
			return nil
		}
		return volErr
	}
	if volume == "" {
		return nil
	}

	if _, err := m.run(ctx, "volume", "rm", volume); err != nil {
		if isNoSuchIgnorable(err) {
			return nil
		}
		return err
	}
	return nil
}

func isNoSuchIgnorable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such container") || strings.Contains(msg, "no such volume")
}
