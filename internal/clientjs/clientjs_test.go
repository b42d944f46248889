package clientjs

import (
	"strings"
	"testing"
)

func TestRuntimeScriptEmbedsParameters(t *testing.T) {
	script := RuntimeScript("main", "1.2.3", 42)
	for _, want := range []string{`"main"`, `"1.2.3"`, "42"} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q", want)
		}
	}
}

func TestDecideReloadProgramTypeChangeForcesFullReload(t *testing.T) {
	old := ArtifactMeta{ProgramType: ProgramSandbox}
	new := ArtifactMeta{ProgramType: ProgramElement}
	d := DecideReload(old, new)
	if !d.FullReload {
		t.Fatal("expected full reload")
	}
	if len(d.Reasons) != 1 {
		t.Errorf("reasons = %v", d.Reasons)
	}
}

func TestDecideReloadDebugMetadataChangeForcesFullReloadOnlyWhenDebugOn(t *testing.T) {
	old := ArtifactMeta{DebugMode: true, DebugMetadata: "a"}
	new := ArtifactMeta{DebugMode: true, DebugMetadata: "b"}
	if !DecideReload(old, new).FullReload {
		t.Error("expected full reload when debug metadata changes in debug mode")
	}

	old2 := ArtifactMeta{DebugMode: false, DebugMetadata: "a"}
	new2 := ArtifactMeta{DebugMode: false, DebugMetadata: "b"}
	if DecideReload(old2, new2).FullReload {
		t.Error("did not expect full reload when debug mode is off")
	}
}

func TestDecideReloadNewPortWarnsButHotPatches(t *testing.T) {
	old := ArtifactMeta{Ports: []string{"a"}}
	new := ArtifactMeta{Ports: []string{"a", "b"}}
	d := DecideReload(old, new)
	if d.FullReload {
		t.Error("did not expect full reload for a new port")
	}
	if len(d.Warnings) != 1 {
		t.Errorf("warnings = %v", d.Warnings)
	}
}

func TestDecideReloadNoChangesIsQuietHotPatch(t *testing.T) {
	meta := ArtifactMeta{ProgramType: ProgramElement, FlagsShape: "x", ModelShape: "y"}
	d := DecideReload(meta, meta)
	if d.FullReload || len(d.Reasons) != 0 || len(d.Warnings) != 0 {
		t.Errorf("got %+v", d)
	}
}
