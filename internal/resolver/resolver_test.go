package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/elm-watch/elm-watch-go/internal/paths"
	"github.com/elm-watch/elm-watch-go/internal/project"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "elm.json"), `{}`)
	writeFile(t, filepath.Join(dir, "src", "Main.elm"), "module Main exposing (main)\n\nimport Helper\n")
	writeFile(t, filepath.Join(dir, "src", "Helper.elm"), "module Helper exposing (x)\n")
	return dir
}

func targetWithInputs(specifiers ...string) *project.Target {
	inputs := make([]project.InputModule, len(specifiers))
	for i, s := range specifiers {
		inputs[i] = project.InputModule{Specifier: s}
	}
	return &project.Target{Name: "main", Inputs: inputs}
}

func TestResolveTargetHappyPath(t *testing.T) {
	dir := setupProject(t)
	root := paths.MustAbsolute(dir)
	target := targetWithInputs("src/Main.elm")

	res, err := ResolveTarget(root, target)
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if res.ElmJSON.String() != root.Join("elm.json").String() {
		t.Errorf("elm.json = %s", res.ElmJSON)
	}
	var sawHelper bool
	for _, w := range res.Watched {
		if w.Path.Base() == "Helper.elm" {
			sawHelper = true
		}
	}
	if !sawHelper {
		t.Error("expected import closure to include Helper.elm")
	}
}

func TestResolveTargetInputsNotFound(t *testing.T) {
	dir := setupProject(t)
	root := paths.MustAbsolute(dir)
	target := targetWithInputs("src/Missing.elm")

	_, err := ResolveTarget(root, target)
	fail, ok := err.(*Failure)
	if !ok || fail.Kind != InputsNotFound {
		t.Fatalf("err = %v, want InputsNotFound Failure", err)
	}
}

func TestResolveTargetDuplicateInputs(t *testing.T) {
	dir := setupProject(t)
	root := paths.MustAbsolute(dir)
	target := targetWithInputs("src/Main.elm", "src/Main.elm")

	_, err := ResolveTarget(root, target)
	fail, ok := err.(*Failure)
	if !ok || fail.Kind != DuplicateInputs {
		t.Fatalf("err = %v, want DuplicateInputs Failure", err)
	}
}

func TestResolveTargetModuleHeaderMismatch(t *testing.T) {
	dir := setupProject(t)
	writeFile(t, filepath.Join(dir, "src", "Wrong.elm"), "module NotWrong exposing (x)\n")
	root := paths.MustAbsolute(dir)
	target := targetWithInputs("src/Wrong.elm")

	_, err := ResolveTarget(root, target)
	fail, ok := err.(*Failure)
	if !ok || fail.Kind != InputsFailedToResolve {
		t.Fatalf("err = %v, want InputsFailedToResolve Failure", err)
	}
}

func TestResolveTargetElmJsonNotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Main.elm"), "module Main exposing (main)\n")
	root := paths.MustAbsolute(dir)
	target := targetWithInputs("src/Main.elm")

	_, err := ResolveTarget(root, target)
	fail, ok := err.(*Failure)
	if !ok || fail.Kind != ElmJsonNotFound {
		t.Fatalf("err = %v, want ElmJsonNotFound Failure", err)
	}
}
