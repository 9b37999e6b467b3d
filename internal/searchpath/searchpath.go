// Package searchpath makes libraries shipped next to the launcher resolvable
// by the delegated daemon.
package searchpath

import (
	"os"
	"path/filepath"
)

// DefaultLibDir is resolved against the directory holding the launcher
const DefaultLibDir = "../lib"

// LibDir resolves rel against the directory containing exe.
// Absolute rel values are returned cleaned.
func LibDir(exe, rel string) string {
	if rel == "" {
		rel = DefaultLibDir
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(filepath.Dir(exe), rel)
}

// Append adds dir to the end of a path-list value unless an entry equal to
// it after filepath.Clean is already present. current is kept as is.
func Append(current, dir string) string {
	if dir == "" {
		return current
	}
	if current == "" {
		return dir
	}

	want := filepath.Clean(dir)
	for _, e := range filepath.SplitList(current) {
		if e != "" && filepath.Clean(e) == want {
			return current
		}
	}
	return current + string(os.PathListSeparator) + dir
}

// Setup appends dir to the environment variable key of this process so
// the delegated command inherits it. A missing dir is not an error: load
// failures surface later in the daemon.
func Setup(key, dir string) (string, error) {
	value := Append(os.Getenv(key), dir)
	if err := os.Setenv(key, value); err != nil {
		return "", err
	}
	return value, nil
}

// Executable returns the resolved path of the running binary
func Executable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}
