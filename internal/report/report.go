// Package report implements the audit surface of the daemon: a plain-text
// stream of cycle summaries and per-file digest lines, written identically
// to an append-only log file and to the console.
package report

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	replsync "github.com/schaermu/replicad/internal/sync"
)

// Audit duplicates every line to the log sink and the console writer. It
// implements the engine's Reporter interface.
type Audit struct {
	mu   sync.Mutex
	out  io.Writer
	file *os.File
	now  func() time.Time
}

// Open opens (creating if needed) the append-only audit log at path and
// tees it with console.
func Open(path string, console io.Writer) (*Audit, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Audit{
		out:  io.MultiWriter(f, console),
		file: f,
		now:  time.Now,
	}, nil
}

// Close closes the underlying log file
func (a *Audit) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

func (a *Audit) line(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ts := a.now().Format(time.RFC3339)
	fmt.Fprintf(a.out, "%s %s\n", ts, fmt.Sprintf(format, args...))
}

// Startup records the run parameters once, before the first cycle.
func (a *Audit) Startup(source, replica string, interval time.Duration) {
	a.line("sync parameters: source=%s replica=%s interval=%s", source, replica, interval)
}

// Fatal records a startup failure that stops the process.
func (a *Audit) Fatal(err error) {
	a.line("fatal: %v", err)
}

// CycleSkipped records a cycle that could not run at all.
func (a *Audit) CycleSkipped(err error) {
	a.line("cycle skipped: %v", err)
}

// CycleCompleted writes the summary line for a finished cycle followed by
// one line per verified file pair. Mismatched and unverifiable pairs are
// marked so they can be told apart from clean ones in the stream.
func (a *Audit) CycleCompleted(r *replsync.CycleReport) {
	a.line("cycle complete: created=%d modified=%d deleted=%d errors=%d duration=%s",
		r.Counts.Created, r.Counts.Modified, r.Counts.Deleted, len(r.Errors), r.Duration.Round(time.Millisecond))

	for _, e := range r.Errors {
		a.line("entry error: path=%s op=%s error=%s", e.Path, e.Op, e.Err)
	}

	for _, v := range r.Verifications {
		switch {
		case v.Err != "":
			a.line("verify UNVERIFIED: %s %s error=%s", v.Path, r.Digest, v.Err)
		case v.Matched:
			a.line("verify ok: %s %s source=%s replica=%s", v.Path, r.Digest, v.SourceDigest, v.ReplicaDigest)
		default:
			a.line("verify MISMATCH: %s %s source=%s replica=%s", v.Path, r.Digest, v.SourceDigest, v.ReplicaDigest)
		}
	}
}
