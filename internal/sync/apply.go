package sync

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schaermu/replicad/internal/config"
)

// EntryError records a single operation that failed against a specific entry
type EntryError struct {
	Path string `json:"path"`
	Op   OpKind `json:"op"`
	Err  string `json:"error"`
}

// Counts accumulates applied operations by effect
type Counts struct {
	Created  int `json:"created"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

// Applier executes planned operations against the replica root. The source
// root is read-only to it.
type Applier struct {
	sourceRoot  string
	replicaRoot string
	onError     config.OnErrorPolicy
	logger      *slog.Logger
}

// NewApplier creates a new applier
func NewApplier(sourceRoot, replicaRoot string, onError config.OnErrorPolicy, logger *slog.Logger) *Applier {
	return &Applier{
		sourceRoot:  sourceRoot,
		replicaRoot: replicaRoot,
		onError:     onError,
		logger:      logger,
	}
}

// Apply executes each operation in order, counting successful ones by effect.
// Per-entry failures are recorded and, under the continue policy, do not stop
// the remaining operations. Under the abort policy the first failure ends the
// cycle with an error; the counts and entry errors accumulated so far are
// still returned so the cycle stays auditable.
func (a *Applier) Apply(ops []Operation) (Counts, []EntryError, error) {
	var counts Counts
	var entryErrs []EntryError

	for _, op := range ops {
		err := a.applyOne(op, &counts)
		if err == nil {
			continue
		}

		a.logger.Warn("operation failed",
			"op", op.Kind,
			"path", op.RelPath,
			"error", err)
		entryErrs = append(entryErrs, EntryError{Path: op.RelPath, Op: op.Kind, Err: err.Error()})

		if a.onError == config.OnErrorAbort {
			return counts, entryErrs, fmt.Errorf("aborting cycle at %s %s: %w", op.Kind, op.RelPath, err)
		}
	}

	return counts, entryErrs, nil
}

func (a *Applier) applyOne(op Operation, counts *Counts) error {
	dst := filepath.Join(a.replicaRoot, filepath.FromSlash(op.RelPath))

	switch op.Kind {
	case OpCreateDir:
		// MkdirAll keeps this idempotent against concurrent external writers.
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		a.logger.Debug("created directory", "path", op.RelPath)
		counts.Created++
		return nil

	case OpCopyFile:
		src := filepath.Join(a.sourceRoot, filepath.FromSlash(op.RelPath))
		if err := a.copyFile(src, dst); err != nil {
			return err
		}
		a.logger.Debug("copied file", "path", op.RelPath, "reason", op.Reason)
		if op.Reason == CopyStale {
			counts.Modified++
		} else {
			counts.Created++
		}
		return nil

	case OpDeleteFile:
		if err := os.Remove(dst); err != nil {
			// Already gone: nothing was removed, nothing to count.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		a.logger.Debug("deleted file", "path", op.RelPath)
		counts.Deleted++
		return nil

	case OpDeleteDir:
		// Non-recursive on purpose: a directory that gained unexpected
		// external content between snapshot and delete fails here instead
		// of being wiped.
		if err := os.Remove(dst); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		a.logger.Debug("deleted directory", "path", op.RelPath)
		counts.Deleted++
		return nil

	default:
		return fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
}

// copyFile copies a file from src to dst with an atomic write, then
// propagates the source's modified time onto the copy. Without the mtime
// propagation the next cycle's staleness comparison would be meaningless.
func (a *Applier) copyFile(src, dst string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	// Open source
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".replicad-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	// Copy content
	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Set permissions on temp file
	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Close temp file
	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}

	// Carry the source mtime over so staleness comparison survives the copy.
	return os.Chtimes(dst, time.Now(), srcInfo.ModTime())
}
