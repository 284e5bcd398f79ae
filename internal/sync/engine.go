package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/replicad/internal/config"
	"github.com/schaermu/replicad/internal/snapshot"
)

// Reporter consumes the structured result of each completed cycle. The
// engine never interprets a report beyond handing it over.
type Reporter interface {
	CycleCompleted(report *CycleReport)
}

// Engine orchestrates one reconciliation cycle: snapshot both roots, diff,
// apply, verify, report. It holds no state across cycles; the filesystem is
// the only durable state and every cycle rediscovers it from scratch.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	reporter Reporter
	dryRun   bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, logger *slog.Logger, reporter Reporter, dryRun bool) *Engine {
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		reporter: reporter,
		dryRun:   dryRun,
	}
}

// ValidateRoots checks that both roots exist. Called once at startup; a
// missing root here is fatal, not a steady-state condition.
func (e *Engine) ValidateRoots() error {
	if _, err := snapshot.Take(e.cfg.Paths.Source); err != nil {
		return fmt.Errorf("source root: %w", err)
	}
	if _, err := snapshot.Take(e.cfg.Paths.Replica); err != nil {
		return fmt.Errorf("replica root: %w", err)
	}
	return nil
}

// RunCycle executes one full cycle and returns its report. A missing source
// root skips the cycle and returns an error; callers in steady state log it
// and attempt the next cycle. Once a cycle has started there is no
// cancellation path; the context is only consulted between cycles.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	source, err := snapshot.Take(e.cfg.Paths.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot source: %w", err)
	}
	replica, err := snapshot.Take(e.cfg.Paths.Replica)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot replica: %w", err)
	}

	ops := Diff(source, replica)
	e.logger.Info("cycle plan",
		"source_entries", source.Len(),
		"replica_entries", replica.Len(),
		"operations", len(ops))

	if e.dryRun {
		e.logPlanDetails(ops)
		e.logger.Info("dry-run complete, no changes applied")
		return &CycleReport{
			Start:    start,
			Duration: time.Since(start),
			Digest:   string(e.cfg.Sync.Digest),
		}, nil
	}

	applier := NewApplier(e.cfg.Paths.Source, e.cfg.Paths.Replica, e.cfg.Sync.OnError, e.logger)
	counts, entryErrs, applyErr := applier.Apply(ops)

	verifier := NewVerifier(e.cfg.Paths.Source, e.cfg.Paths.Replica, e.cfg.Sync.Digest, e.logger)
	results := verifier.Verify(source)

	report := &CycleReport{
		Start:         start,
		Duration:      time.Since(start),
		Digest:        string(e.cfg.Sync.Digest),
		Counts:        counts,
		Errors:        entryErrs,
		Verifications: results,
	}

	e.logger.Info("cycle complete",
		"created", counts.Created,
		"modified", counts.Modified,
		"deleted", counts.Deleted,
		"entry_errors", len(entryErrs),
		"mismatches", report.Mismatches(),
		"duration", report.Duration)

	if e.reporter != nil {
		e.reporter.CycleCompleted(report)
	}

	if applyErr != nil {
		return report, applyErr
	}
	return report, nil
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(ops []Operation) {
	for _, op := range ops {
		if op.Kind == OpCopyFile {
			e.logger.Info("[dry-run] would apply", "op", op.Kind, "path", op.RelPath, "reason", op.Reason)
			continue
		}
		e.logger.Info("[dry-run] would apply", "op", op.Kind, "path", op.RelPath)
	}
}
