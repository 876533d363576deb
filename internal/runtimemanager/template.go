package runtimemanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// templateVarPattern matches `{{VAR_NAME}}` placeholders in compose/env
// templates.
var templateVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// defaultRuntimeEnv seeds every tenant's runtime.env before template-derived
// and caller-supplied values are layered on top (§4.6.3).
func defaultRuntimeEnv(tenantID string, bridgePort int) map[string]string {
	return map[string]string{
		"TENANT_ID":   tenantID,
		"BRIDGE_PORT": fmt.Sprintf("%d", bridgePort),
		"LOG_LEVEL":   "info",
	}
}

// resolveTemplate finds a template file: the explicitly configured path if
// set and present, otherwise "runtime/templates/<filename>" relative to the
// working directory, otherwise "/app/runtime/templates/<filename>".
func resolveTemplate(configuredPath string) (string, error) {
	candidates := []string{}
	if configuredPath != "" {
		candidates = append(candidates, configuredPath)
	}
	filename := filepath.Base(configuredPath)
	if filename != "" && filename != "." {
		candidates = append(candidates,
			filepath.Join("runtime", "templates", filename),
			filepath.Join("/app", "runtime", "templates", filename),
		)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", newErr(ErrTemplateMissing, "no template found for %q", configuredPath)
}

func renderTemplate(path string, vars map[string]string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", newErr(ErrTemplateMissing, "reading template %s: %v", path, err)
	}
	rendered := templateVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := templateVarPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
	return rendered, nil
}

// extractEnvAssignments pulls KEY=VALUE lines out of a rendered env template
// body, the same way the caller-supplied values are parsed.
func extractEnvAssignments(body string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "export ")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = unescapeEnvValue(strings.TrimSpace(value))
	}
	return out
}

func unescapeEnvValue(v string) string {
	v = strings.Trim(v, `"'`)
	return strings.ReplaceAll(v, `\n`, "\n")
}

func escapeEnvValue(v string) string {
	return strings.ReplaceAll(v, "\n", `\n`)
}

// WriteRuntimeEnv merges defaults < env-template-derived values < caller
// values, preserves any pre-existing BRIDGE_SHARED_SECRET not present in
// the new values, and writes sorted KEY=VALUE lines (§4.6.3).
func (m *Manager) WriteRuntimeEnv(tenantID string, values map[string]string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}

	merged := defaultRuntimeEnv(tenantID, m.BridgePort)

	if templatePath, err := resolveTemplate(m.TemplateEnvPath); err == nil {
		rendered, err := renderTemplate(templatePath, map[string]string{
			"TENANT_ID":      tenantID,
			"BRIDGE_PORT":    fmt.Sprintf("%d", m.BridgePort),
			"TENANT_NETWORK": m.Network,
		})
		if err == nil {
			for k, v := range extractEnvAssignments(rendered) {
				merged[k] = v
			}
		}
	}

	for k, v := range values {
		merged[k] = v
	}

	if _, hasNewSecret := values[bridgeSharedSecretKey]; !hasNewSecret {
		if existing, err := m.ReadRuntimeEnv(tenantID); err == nil {
			if secret, ok := existing[bridgeSharedSecretKey]; ok && secret != "" {
				merged[bridgeSharedSecretKey] = secret
			}
		}
	}

	path, err := m.runtimeEnvFile(tenantID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating env dir: %w", err)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(escapeEnvValue(merged[k]))
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o640); err != nil {
		return fmt.Errorf("writing runtime env: %w", err)
	}
	return nil
}

// ReadRuntimeEnv parses an existing runtime.env file into a map.
func (m *Manager) ReadRuntimeEnv(tenantID string) (map[string]string, error) {
	path, err := m.runtimeEnvFile(tenantID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading runtime env: %w", err)
	}
	return extractEnvAssignments(string(raw)), nil
}

// WriteCompose renders and writes the tenant's docker-compose.yml.
func (m *Manager) WriteCompose(tenantID, nexusImage string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	templatePath, err := resolveTemplate(m.TemplateComposePath)
	if err != nil {
		return err
	}
	rendered, err := renderTemplate(templatePath, map[string]string{
		"TENANT_ID":      tenantID,
		"NEXUS_IMAGE":    nexusImage,
		"BRIDGE_PORT":    fmt.Sprintf("%d", m.BridgePort),
		"TENANT_NETWORK": m.Network,
	})
	if err != nil {
		return err
	}
	path, err := m.composeFile(tenantID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating tenant dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(rendered), 0o640); err != nil {
		return fmt.Errorf("writing compose file: %w", err)
	}
	return nil
}

// WriteConfigFiles writes env.json and, convergently, the tenant's active
// prompt/skill markdown files — any existing prompt/skill file absent from
// the new set is deleted (§4.6.2).
func (m *Manager) WriteConfigFiles(tenantID string, env map[string]any, prompts, skills map[string]string) error {
	configDir, err := m.configDir(tenantID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	envJSON, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling env.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "env.json"), envJSON, 0o640); err != nil {
		return fmt.Errorf("writing env.json: %w", err)
	}

	if err := m.writeConvergentSet(tenantID, m.promptsDir, prompts); err != nil {
		return err
	}
	return m.writeConvergentSet(tenantID, m.skillsDir, skills)
}

func (m *Manager) writeConvergentSet(tenantID string, dirFn func(string) (string, error), items map[string]string) error {
	dir, err := dirFn(tenantID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	expected := map[string]struct{}{}
	for name, content := range items {
		if err := validateConfigItemName(name); err != nil {
			return err
		}
		filename := name + ".md"
		expected[filename] = struct{}{}
		if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o640); err != nil {
			return fmt.Errorf("writing %s: %w", filename, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := expected[entry.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing stale %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// WriteGoogleToken persists the tenant's linked Google OAuth token.
func (m *Manager) WriteGoogleToken(tenantID string, token []byte) error {
	path, err := m.googleTokenPath(tenantID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating google dir: %w", err)
	}
	if err := os.WriteFile(path, token, 0o600); err != nil {
		return fmt.Errorf("writing google token: %w", err)
	}
	return nil
}

// ClearGoogleToken removes a tenant's linked Google OAuth token, if any.
func (m *Manager) ClearGoogleToken(tenantID string) error {
	path, err := m.googleTokenPath(tenantID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing google token: %w", err)
	}
	return nil
}

// migrateLegacyConfigMount rewrites the deprecated read-only config mount
// to the current read-write one, returning whether the content changed.
func migrateLegacyConfigMount(compose string) (string, bool) {
	if !strings.Contains(compose, legacyConfigROMount) {
		return compose, false
	}
	return strings.ReplaceAll(compose, legacyConfigROMount, configRWMount), true
}

// migrateComposeImage rewrites the `runtime:` service's `image:` line to
// newImage, preserving its original indentation, without a YAML parser —
// it tracks just enough state to find that one line.
func migrateComposeImage(compose, newImage string) (string, bool) {
	lines := strings.Split(compose, "\n")
	inServices := false
	inRuntime := false
	changed := false

	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		indent := len(line) - len(strings.TrimLeft(line, " "))

		switch {
		case strings.TrimSpace(trimmed) == "services:":
			inServices = true
			inRuntime = false
		case inServices && indent <= 2 && strings.HasPrefix(strings.TrimSpace(trimmed), "runtime:"):
			inRuntime = true
		case inServices && indent <= 2 && !strings.HasPrefix(strings.TrimSpace(trimmed), "runtime:") && strings.HasSuffix(strings.TrimSpace(trimmed), ":"):
			inRuntime = false
		case inRuntime && strings.HasPrefix(strings.TrimSpace(trimmed), "image:"):
			prefix := line[:len(line)-len(strings.TrimLeft(line, " "))]
			lines[i] = prefix + "image: " + newImage
			changed = true
			inRuntime = false
		}
	}
	if !changed {
		return compose, false
	}
	return strings.Join(lines, "\n"), true
}
