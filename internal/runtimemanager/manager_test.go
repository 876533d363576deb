package runtimemanager

import "testing"

func TestValidateTenantID(t *testing.T) {
	cases := []struct {
		id      string
		wantErr bool
	}{
		{"acme-corp", false},
		{"tenant_1", false},
		{"ab", true},             // too short
		{"-acme", true},          // must start alnum
		{"ACME", true},           // uppercase not allowed
		{"acme corp", true},      // space
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			err := ValidateTenantID(tc.id)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateTenantID(%q) error = %v, wantErr %v", tc.id, err, tc.wantErr)
			}
		})
	}
}

func TestValidateNexusImage(t *testing.T) {
	cases := []struct {
		image   string
		wantErr bool
	}{
		{"", true},
		{"ghcr.io/replace_with/nexus-runtime:latest", true},
		{"ghcr.io/your-org/nexus-runtime:latest", true},
		{"ghcr.io/<org>/nexus-runtime:latest", true},
		{"ghcr.io/acme/nexus-runtime:v1.2.3", false},
	}
	for _, tc := range cases {
		t.Run(tc.image, func(t *testing.T) {
			err := ValidateNexusImage(tc.image)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateNexusImage(%q) error = %v, wantErr %v", tc.image, err, tc.wantErr)
			}
		})
	}
}

func TestMigrateLegacyConfigMount(t *testing.T) {
	before := "    volumes:\n      - ./config:/data/config:ro\n"
	after, changed := migrateLegacyConfigMount(before)
	if !changed {
		t.Fatalf("expected a change")
	}
	want := "    volumes:\n      - ./config:/data/config\n"
	if after != want {
		t.Fatalf("got %q, want %q", after, want)
	}

	_, changed = migrateLegacyConfigMount(want)
	if changed {
		t.Fatalf("expected no further change once migrated")
	}
}

func TestMigrateComposeImage(t *testing.T) {
	before := "services:\n  runtime:\n    image: old/image:v1\n    ports:\n      - \"8765:8765\"\n  other:\n    image: unrelated:latest\n"
	after, changed := migrateComposeImage(before, "new/image:v2")
	if !changed {
		t.Fatalf("expected a change")
	}
	want := "services:\n  runtime:\n    image: new/image:v2\n    ports:\n      - \"8765:8765\"\n  other:\n    image: unrelated:latest\n"
	if after != want {
		t.Fatalf("got:\n%s\nwant:\n%s", after, want)
	}
}

func TestEnvAssignmentRoundTrip(t *testing.T) {
	values := map[string]string{
		"FOO":    "bar",
		"MULTI":  "line1\nline2",
		"QUOTED": `"already quoted"`,
	}
	var rendered string
	for k, v := range values {
		rendered += k + "=" + escapeEnvValue(v) + "\n"
	}
	got := extractEnvAssignments(rendered)
	if got["FOO"] != "bar" {
		t.Fatalf("FOO = %q", got["FOO"])
	}
	if got["MULTI"] != "line1\nline2" {
		t.Fatalf("MULTI = %q", got["MULTI"])
	}
	if got["QUOTED"] != "already quoted" {
		t.Fatalf("QUOTED = %q", got["QUOTED"])
	}
}
