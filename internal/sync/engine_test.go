package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/replicad/internal/config"
	"github.com/schaermu/replicad/internal/snapshot"
)

// recordingReporter captures the reports handed over by the engine.
type recordingReporter struct {
	reports []*CycleReport
}

func (r *recordingReporter) CycleCompleted(report *CycleReport) {
	r.reports = append(r.reports, report)
}

func engineConfig(source, replica string) *config.Config {
	cfg := config.Default()
	cfg.Paths.Source = source
	cfg.Paths.Replica = replica
	return cfg
}

func TestRunCycle_Convergence(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()

	mtime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.WriteFile(filepath.Join(source, "file1.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(source, "file1.txt"), mtime, mtime))

	reporter := &recordingReporter{}
	engine := NewEngine(engineConfig(source, replica), testLogger(), reporter, false)

	report, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts.Created)
	assert.Equal(t, 0, report.Counts.Modified)
	assert.Equal(t, 0, report.Counts.Deleted)
	assert.Empty(t, report.Errors)

	require.Len(t, report.Verifications, 1)
	v := report.Verifications[0]
	assert.Equal(t, "file1.txt", v.Path)
	assert.True(t, v.Matched)
	assert.Equal(t, v.SourceDigest, v.ReplicaDigest)

	content, err := os.ReadFile(filepath.Join(replica, "file1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	require.Len(t, reporter.reports, 1)
	assert.Same(t, report, reporter.reports[0])
}

func TestRunCycle_Idempotence(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(source, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "a", "b", "f.txt"), []byte("payload"), 0o644))

	engine := NewEngine(engineConfig(source, replica), testLogger(), nil, false)

	first, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Changed())

	second, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Counts.Created)
	assert.Equal(t, 0, second.Counts.Modified)
	assert.Equal(t, 0, second.Counts.Deleted)
	assert.False(t, second.Changed())
}

func TestRunCycle_StalenessOverwrites(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()

	older := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	// Same content on both sides; the strictly newer source mtime alone
	// must trigger the overwrite.
	for root, mtime := range map[string]time.Time{source: newer, replica: older} {
		path := filepath.Join(root, "f.txt")
		require.NoError(t, os.WriteFile(path, []byte("identical"), 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	engine := NewEngine(engineConfig(source, replica), testLogger(), nil, false)
	report, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts.Modified)
	assert.Equal(t, 0, report.Counts.Created)

	// The replica now carries the source mtime, so the next cycle is clean.
	second, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, second.Changed())
}

func TestRunCycle_DeletionPropagates(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(source, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "a", "keep.txt"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "a", "b", "gone.txt"), []byte("gone"), 0o644))

	engine := NewEngine(engineConfig(source, replica), testLogger(), nil, false)
	_, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	// Drop a/b from the source and reconcile again.
	require.NoError(t, os.RemoveAll(filepath.Join(source, "a", "b")))

	report, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Counts.Deleted, "file and directory")

	_, err = os.Stat(filepath.Join(replica, "a", "b"))
	assert.True(t, os.IsNotExist(err), "a/b must be removed from the replica")
	_, err = os.Stat(filepath.Join(replica, "a", "keep.txt"))
	assert.NoError(t, err, "parent with surviving content must remain")
}

func TestRunCycle_KindConflictDirBecomesFile(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(source, "x"), []byte("now a file"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(replica, "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(replica, "x", "child.txt"), []byte("old"), 0o644))

	engine := NewEngine(engineConfig(source, replica), testLogger(), nil, false)

	report, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, report.Counts.Deleted, "child file and directory")
	assert.Equal(t, 1, report.Counts.Created)

	info, err := os.Stat(filepath.Join(replica, "x"))
	require.NoError(t, err)
	assert.False(t, info.IsDir(), "replica x must be a regular file after the cycle")
	content, err := os.ReadFile(filepath.Join(replica, "x"))
	require.NoError(t, err)
	assert.Equal(t, "now a file", string(content))

	second, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, second.Changed())
}

func TestRunCycle_KindConflictFileBecomesDir(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(source, "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "x", "child.txt"), []byte("payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(replica, "x"), []byte("was a file"), 0o644))

	engine := NewEngine(engineConfig(source, replica), testLogger(), nil, false)

	report, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Counts.Deleted)
	assert.Equal(t, 2, report.Counts.Created, "directory and child file")

	info, err := os.Stat(filepath.Join(replica, "x"))
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "replica x must be a directory after the cycle")
	content, err := os.ReadFile(filepath.Join(replica, "x", "child.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	second, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, second.Changed())
}

func TestRunCycle_PostCycleInvariant(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(source, "x", "y"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "x", "f1"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "x", "y", "f2"), []byte("22"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(replica, "stray"), []byte("stray"), 0o644))

	engine := NewEngine(engineConfig(source, replica), testLogger(), nil, false)
	_, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	srcInv, err := snapshot.Take(source)
	require.NoError(t, err)
	dstInv, err := snapshot.Take(replica)
	require.NoError(t, err)
	assert.ElementsMatch(t, srcInv.Paths(), dstInv.Paths())
}

func TestRunCycle_MissingSource(t *testing.T) {
	replica := t.TempDir()
	cfg := engineConfig(filepath.Join(replica, "no-such-source"), replica)

	engine := NewEngine(cfg, testLogger(), nil, false)
	_, err := engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, snapshot.ErrRootNotFound))
}

func TestRunCycle_DryRun(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "f.txt"), []byte("x"), 0o644))

	engine := NewEngine(engineConfig(source, replica), testLogger(), nil, true)
	report, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed())

	_, err = os.Stat(filepath.Join(replica, "f.txt"))
	assert.True(t, os.IsNotExist(err), "dry-run must not touch the replica")
}

func TestRunCycle_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(engineConfig(t.TempDir(), t.TempDir()), testLogger(), nil, false)
	_, err := engine.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidateRoots(t *testing.T) {
	source := t.TempDir()
	replica := t.TempDir()

	engine := NewEngine(engineConfig(source, replica), testLogger(), nil, false)
	require.NoError(t, engine.ValidateRoots())

	missing := NewEngine(engineConfig(filepath.Join(source, "gone"), replica), testLogger(), nil, false)
	err := missing.ValidateRoots()
	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrRootNotFound)
}

func TestCycleReport_Counters(t *testing.T) {
	r := &CycleReport{
		Counts: Counts{Created: 1},
		Verifications: []VerificationResult{
			{Path: "a", Matched: true},
			{Path: "b", Matched: false},
			{Path: "c", Err: "unreadable"},
		},
	}
	assert.True(t, r.Changed())
	assert.Equal(t, 1, r.Mismatches())
	assert.Equal(t, 1, r.Unverified())
}
