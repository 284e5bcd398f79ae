//go:build integration

package tier1

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/schaermu/replicad/internal/testutil"
)

const buildTimeout = 2 * time.Minute

// Harness builds the real binary once per test and drives it against
// temporary source/replica trees.
type Harness struct {
	t       *testing.T
	binPath string

	SourceDir  string
	ReplicaDir string
	LogPath    string
}

// NewHarness compiles cmd/replicad and prepares fresh roots
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		t.Fatalf("get project root: %v", err)
	}

	workDir := t.TempDir()
	binPath := filepath.Join(workDir, "replicad")

	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "build", "-o", binPath, "./cmd/replicad")
	cmd.Dir = projectRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, out)
	}

	h := &Harness{
		t:          t,
		binPath:    binPath,
		SourceDir:  filepath.Join(workDir, "source"),
		ReplicaDir: filepath.Join(workDir, "replica"),
		LogPath:    filepath.Join(workDir, "audit.log"),
	}
	if err := os.Mkdir(h.SourceDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(h.ReplicaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return h
}

// RunSync executes one `replicad sync` invocation and returns its stdout
func (h *Harness) RunSync(extraArgs ...string) (string, error) {
	h.t.Helper()

	args := append([]string{
		"sync",
		"--source", h.SourceDir,
		"--replica", h.ReplicaDir,
		"--log-file", h.LogPath,
		"--log-level", "error",
	}, extraArgs...)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.binPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		err = fmt.Errorf("%w: %s", err, stderr.String())
	}
	return stdout.String(), err
}

// StartRun launches `replicad run` in the background and returns a stop
// function that terminates it and waits for exit.
func (h *Harness) StartRun(intervalSeconds int) (stop func()) {
	h.t.Helper()

	cmd := exec.Command(h.binPath,
		"run",
		"--source", h.SourceDir,
		"--replica", h.ReplicaDir,
		"--interval", fmt.Sprintf("%d", intervalSeconds),
		"--log-file", h.LogPath,
		"--log-level", "error",
	)
	if err := cmd.Start(); err != nil {
		h.t.Fatalf("start replicad run: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	return func() {
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
	}
}

// WriteSource writes a file under the source root
func (h *Harness) WriteSource(rel, content string) {
	h.t.Helper()
	path := filepath.Join(h.SourceDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatal(err)
	}
}

// TouchSource pins the modified time of a source file
func (h *Harness) TouchSource(rel string, mtime time.Time) {
	h.t.Helper()
	path := filepath.Join(h.SourceDir, filepath.FromSlash(rel))
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		h.t.Fatal(err)
	}
}

// RemoveSource deletes a file or tree under the source root
func (h *Harness) RemoveSource(rel string) {
	h.t.Helper()
	if err := os.RemoveAll(filepath.Join(h.SourceDir, filepath.FromSlash(rel))); err != nil {
		h.t.Fatal(err)
	}
}

// ReadReplica reads a file under the replica root
func (h *Harness) ReadReplica(rel string) (string, error) {
	content, err := os.ReadFile(filepath.Join(h.ReplicaDir, filepath.FromSlash(rel)))
	return string(content), err
}

// AuditLog returns the current audit log content
func (h *Harness) AuditLog() string {
	h.t.Helper()
	content, err := os.ReadFile(h.LogPath)
	if err != nil {
		h.t.Fatalf("read audit log: %v", err)
	}
	return string(content)
}
