package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

func TestValidateTargetName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"main", true},
		{"a", true},
		{"Html exe", true},
		{"-main", false},
		{"main\nmore", false},
		{" main", false},
		{"main ", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateTargetName(tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateTargetName(%q) error = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && err.Error() != ErrInvalidTargetNameMessage {
			t.Errorf("ValidateTargetName(%q) message = %q", tt.name, err.Error())
		}
	}
}

func TestLoadConfigFilePreservesOrder(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)
	contents := `{
  "targets": {
    "zeta": {"inputs": ["src/Zeta.elm"], "output": "zeta.js"},
    "alpha": {"inputs": ["src/Alpha.elm"], "output": "alpha.js"}
  }
}`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, order, err := LoadConfigFile(configPath)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if len(order) != 2 || order[0] != "zeta" || order[1] != "alpha" {
		t.Fatalf("order = %v, want [zeta alpha]", order)
	}

	proj, err := NewProject(paths.MustAbsolute(dir), doc, order)
	if err != nil {
		t.Fatalf("NewProject: %v", err)
	}
	if got := proj.OrderedTargetNames(); got[0] != "zeta" || got[1] != "alpha" {
		t.Errorf("OrderedTargetNames = %v", got)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, _, err := LoadConfigFile(filepath.Join(t.TempDir(), ConfigFileName))
	if err != ErrConfigNotFound {
		t.Errorf("err = %v, want ErrConfigNotFound", err)
	}
}

func TestNewProjectRejectsBadOutput(t *testing.T) {
	doc := ConfigDocument{Targets: map[string]rawTarget{
		"main": {Inputs: []string{"src/Main.elm"}, Output: "main.txt"},
	}}
	_, err := NewProject(paths.MustAbsolute(t.TempDir()), doc, []string{"main"})
	if err == nil {
		t.Fatal("expected error for non-.js output")
	}
}

func TestMatchTargetsSubstring(t *testing.T) {
	doc := ConfigDocument{Targets: map[string]rawTarget{
		"Main":    {Inputs: []string{"src/Main.elm"}, Output: "main.js"},
		"Html":    {Inputs: []string{"src/Html.elm"}, Output: "html.js"},
		"Tests":   {Inputs: []string{"src/Tests.elm"}, Output: "tests.js"},
	}}
	order := []string{"Main", "Html", "Tests"}
	proj, err := NewProject(paths.MustAbsolute(t.TempDir()), doc, order)
	if err != nil {
		t.Fatal(err)
	}

	matched, unknown := proj.MatchTargets([]string{"ml"})
	if len(matched) != 1 || matched[0].Name != "Html" {
		t.Errorf("matched = %v", matched)
	}
	if len(unknown) != 0 {
		t.Errorf("unknown = %v", unknown)
	}

	_, unknown = proj.MatchTargets([]string{"nope"})
	if len(unknown) != 1 || unknown[0] != "nope" {
		t.Errorf("unknown = %v", unknown)
	}
}
