// Package testutil holds helpers shared by the integration suites.
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// FindProjectRoot locates the module root by walking up from this source
// file until a go.mod appears. Integration tests use it to build the binary
// regardless of the directory the test runner starts in.
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
