package compiler

import (
	"bytes"
	"context"
	"testing"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

func TestBuildArgvTypeCheckOmitsOutput(t *testing.T) {
	argv := buildArgv(Args{
		Mode:   TypeCheck,
		Inputs: []paths.Absolute{paths.MustAbsolute("/src/Main.elm")},
	})
	for _, a := range argv {
		if a == "--output=" || bytes.HasPrefix([]byte(a), []byte("--output=")) {
			t.Fatalf("typecheck argv should not include --output, got %v", argv)
		}
	}
}

func TestBuildArgvMakeIncludesOutputAndOptimize(t *testing.T) {
	argv := buildArgv(Args{
		Mode:     Make,
		Optimize: Optimize,
		Inputs:   []paths.Absolute{paths.MustAbsolute("/src/Main.elm")},
		Output:   paths.MustAbsolute("/dist/main.js"),
	})
	want := []string{"make", "/src/Main.elm", "--output=/dist/main.js", "--optimize", "--report=json"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestClassifySuccess(t *testing.T) {
	res := classify(paths.SpawnResult{ExitCode: 0}, Args{Mode: Make})
	if res.Outcome != Success || !res.ArtifactWritten {
		t.Errorf("got %+v", res)
	}
}

func TestClassifyTypeCheckSuccessNoArtifact(t *testing.T) {
	res := classify(paths.SpawnResult{ExitCode: 0}, Args{Mode: TypeCheck})
	if res.Outcome != Success || res.ArtifactWritten {
		t.Errorf("got %+v", res)
	}
}

func TestClassifyStructuredCompileError(t *testing.T) {
	stderr := []byte(`{"type":"compile-errors","errors":[{"path":"src/Main.elm","name":"Main","problems":[{"title":"NAMING ERROR","message":["oops"]}]}]}`)
	res := classify(paths.SpawnResult{ExitCode: 1, Stderr: stderr}, Args{Mode: Make})
	if res.Outcome != StructuredCompileErrorOutcome {
		t.Fatalf("outcome = %v, want StructuredCompileErrorOutcome", res.Outcome)
	}
	if res.Report.Type != "compile-errors" || len(res.Report.Errors) != 1 {
		t.Errorf("report = %+v", res.Report)
	}
}

func TestClassifyUnknownReportType(t *testing.T) {
	dir := t.TempDir()
	stderr := []byte(`{"type":"something-new"}`)
	res := classify(paths.SpawnResult{ExitCode: 1, Stderr: stderr}, Args{Mode: Make, ProjectDir: dir})
	if res.Outcome != JsonParseErrorOutcome {
		t.Fatalf("outcome = %v, want JsonParseErrorOutcome", res.Outcome)
	}
	if res.DiagnosticFile.IsZero() {
		t.Error("expected a diagnostic file path")
	}
}

func TestClassifyUnexpectedOutput(t *testing.T) {
	res := classify(paths.SpawnResult{ExitCode: 2, Stderr: []byte("panic: boom")}, Args{Mode: Make})
	if res.Outcome != UnexpectedOutputOutcome {
		t.Fatalf("outcome = %v, want UnexpectedOutputOutcome", res.Outcome)
	}
}

func TestRunCommandNotFound(t *testing.T) {
	res := Run(context.Background(), paths.SnapshotEnvironment(), Args{
		Mode:      Make,
		ElmBinary: "does-not-exist-elm-xyz",
		Inputs:    []paths.Absolute{paths.MustAbsolute("/src/Main.elm")},
		Output:    paths.MustAbsolute("/dist/main.js"),
	})
	if res.Outcome != CommandNotFoundOutcome {
		t.Fatalf("outcome = %v, want CommandNotFoundOutcome", res.Outcome)
	}
}
