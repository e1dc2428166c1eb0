package skill

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather.yaml", "name: weather\ndescription: Weather lookups\nprompt: Prefer metric units.\n")
	writeSkill(t, dir, "unnamed.yml", "description: Falls back to filename\n")
	writeSkill(t, dir, "disabled.yaml", "name: off-skill\nenabled: false\n")
	writeSkill(t, dir, "broken.yaml", "name: [unclosed\n")
	writeSkill(t, dir, "notes.txt", "not a skill\n")

	skills, err := LoadFromDirectory(dir, slog.Default())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(skills) != 2 {
		t.Fatalf("expected 2 skills, got %d: %+v", len(skills), skills)
	}

	byName := map[string]bool{}
	for _, s := range skills {
		byName[s.Name] = true
	}
	if !byName["weather"] || !byName["unnamed"] {
		t.Fatalf("unexpected skill set: %v", byName)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	skills, err := LoadFromDirectory(filepath.Join(t.TempDir(), "nope"), slog.Default())
	if err != nil || skills != nil {
		t.Fatalf("missing dir should be (nil, nil), got %v %v", skills, err)
	}
}

func TestPromptSection(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a.yaml", "name: alpha\nprompt: Always be brief.\n")
	skills, err := LoadFromDirectory(dir, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	section := PromptSection(skills)
	if !strings.Contains(section, "### alpha") || !strings.Contains(section, "Always be brief.") {
		t.Fatalf("unexpected section: %q", section)
	}
	if PromptSection(nil) != "" {
		t.Fatal("empty skills should render nothing")
	}
}
