package paths

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewAbsoluteCleans(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{".", ""}, // compared to cwd below
	}
	wd, _ := os.Getwd()
	tests[0].want = filepath.Clean(wd)

	for _, tt := range tests {
		got, err := NewAbsolute(tt.in)
		if err != nil {
			t.Fatalf("NewAbsolute(%q): %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("NewAbsolute(%q) = %q, want %q", tt.in, got.String(), tt.want)
		}
	}
}

func TestWriteFileAtomicThenRead(t *testing.T) {
	dir := t.TempDir()
	target := MustAbsolute(filepath.Join(dir, "state.json"))

	if err := target.WriteFileAtomic([]byte(`{"port":1}`), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	data, err := target.ReadFile()
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != `{"port":1}` {
		t.Errorf("got %q", data)
	}

	// No leftover temp files.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected exactly 1 file in dir, got %d", len(entries))
	}
}

func TestSpawnMissingBinaryReturnsCommandNotFound(t *testing.T) {
	if _, err := Spawn(context.Background(), "does-not-exist-binary-xyz", SpawnOptions{Env: SnapshotEnvironment()}); err == nil {
		t.Fatalf("expected CommandNotFoundError for missing binary")
	} else if _, ok := err.(*CommandNotFoundError); !ok {
		t.Errorf("expected *CommandNotFoundError, got %T: %v", err, err)
	}
}

func TestSpawnEcho(t *testing.T) {
	proc, err := Spawn(context.Background(), "echo", SpawnOptions{
		Args: []string{"hello"},
		Env:  SnapshotEnvironment(),
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	res, err := proc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}
