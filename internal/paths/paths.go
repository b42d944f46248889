// Package paths provides absolute path values and subprocess spawning
// primitives shared by the compiler driver, the post-process runner, and
// the dependency resolver.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Absolute is a path guaranteed to be absolute and cleaned. The zero value
// is invalid; use NewAbsolute or Join to construct one.
type Absolute struct {
	path string
}

// NewAbsolute resolves p against the working directory if needed and
// returns an Absolute.
func NewAbsolute(p string) (Absolute, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return Absolute{}, fmt.Errorf("paths: cannot make %q absolute: %w", p, err)
	}
	return Absolute{path: filepath.Clean(abs)}, nil
}

// MustAbsolute is like NewAbsolute but panics on error. Only use for
// values known to be well-formed (e.g. os.Getwd results).
func MustAbsolute(p string) Absolute {
	a, err := NewAbsolute(p)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the underlying OS path.
func (a Absolute) String() string { return a.path }

// IsZero reports whether a has never been assigned.
func (a Absolute) IsZero() bool { return a.path == "" }

// Join appends rel path components and returns a new Absolute.
func (a Absolute) Join(elem ...string) Absolute {
	parts := append([]string{a.path}, elem...)
	return Absolute{path: filepath.Clean(filepath.Join(parts...))}
}

// Dir returns the parent directory as an Absolute.
func (a Absolute) Dir() Absolute {
	return Absolute{path: filepath.Dir(a.path)}
}

// Base returns the final path element.
func (a Absolute) Base() string { return filepath.Base(a.path) }

// Rel returns the path of target relative to a, using forward slashes.
func (a Absolute) Rel(target Absolute) (string, error) {
	rel, err := filepath.Rel(a.path, target.path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Exists reports whether the path exists (file or directory).
func (a Absolute) Exists() bool {
	_, err := os.Stat(a.path)
	return err == nil
}

// IsFile reports whether the path exists and is a regular file.
func (a Absolute) IsFile() bool {
	info, err := os.Stat(a.path)
	return err == nil && !info.IsDir()
}

// ReadFile reads the full contents of the path.
func (a Absolute) ReadFile() ([]byte, error) {
	return os.ReadFile(a.path)
}

// WriteFileAtomic writes data to a temp file in the same directory and
// renames it over the destination, so readers never observe a partial
// write. This is the only way PersistedState and diagnostic dumps are
// ever written.
func (a Absolute) WriteFileAtomic(data []byte, perm os.FileMode) error {
	dir := a.Dir()
	if err := os.MkdirAll(dir.path, 0o755); err != nil {
		return fmt.Errorf("paths: mkdir %s: %w", dir.path, err)
	}
	tmp, err := os.CreateTemp(dir.path, ".tmp-*")
	if err != nil {
		return fmt.Errorf("paths: create temp in %s: %w", dir.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("paths: write temp %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("paths: close temp %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("paths: chmod temp %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, a.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("paths: rename %s -> %s: %w", tmpName, a.path, err)
	}
	return nil
}

// Environment is a snapshot of the process environment at startup, taken
// once so the supervisor never re-reads os.Environ() mid-run.
type Environment struct {
	vars map[string]string
	path string
}

// SnapshotEnvironment captures the current environment.
func SnapshotEnvironment() Environment {
	vars := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				vars[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return Environment{vars: vars, path: vars["PATH"]}
}

// Lookup returns a variable's value and whether it was set.
func (e Environment) Lookup(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// AsSlice returns the environment as "KEY=VALUE" pairs, suitable for
// exec.Cmd.Env.
func (e Environment) AsSlice() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+v)
	}
	return out
}

// PathVariables returns the names of all PATH-like variables present in
// the environment (PATH on POSIX; PATH and Path and other case variants
// can coexist on Windows). Used for diagnostics when a command isn't found.
func (e Environment) PathVariables() []string {
	var names []string
	for k := range e.vars {
		if runtime.GOOS == "windows" {
			if strings.EqualFold(k, "PATH") {
				names = append(names, k)
			}
		} else if k == "PATH" {
			names = append(names, k)
		}
	}
	return names
}
