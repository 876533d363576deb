package assistant

import "testing"

func TestPromptNeedsDefault(t *testing.T) {
	scaffold := "# Nexus System Prompt"
	custom := "You are a pirate."
	cases := []struct {
		name    string
		content *string
		want    bool
	}{
		{"nil content", nil, true},
		{"empty content", ptr(""), true},
		{"known scaffold", ptr(scaffold), true},
		{"customized", ptr(custom), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PromptNeedsDefault("system", tc.content); got != tc.want {
				t.Fatalf("PromptNeedsDefault(system, %v) = %v, want %v", tc.content, got, tc.want)
			}
		})
	}
}

func TestSkillNeedsDefault(t *testing.T) {
	if !SkillNeedsDefault("pdf_professional", nil) {
		t.Fatal("expected nil content to need default")
	}
	if !SkillNeedsDefault("pdf_professional", ptr("# Skill")) {
		t.Fatal("expected scaffold content to need default")
	}
	if SkillNeedsDefault("pdf_professional", ptr("Custom body text.")) {
		t.Fatal("expected customized content to not need default")
	}
}

func TestManagedSetsExcludeSoul(t *testing.T) {
	if _, ok := ManagedPromptIDs["SOUL"]; ok {
		t.Fatal("SOUL must not be in ManagedPromptIDs")
	}
	if len(ManagedSkillIDs) != len(SkillDefaults) {
		t.Fatalf("expected every skill to be managed, got %d managed of %d", len(ManagedSkillIDs), len(SkillDefaults))
	}
}

func ptr(s string) *string { return &s }
