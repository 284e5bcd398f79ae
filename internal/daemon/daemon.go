// Package daemon drives the sync engine on a fixed cadence. Cycles never
// overlap; when a cycle outruns the interval the next one starts
// immediately, with no catch-up queue and no drift correction.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/schaermu/replicad/internal/config"
	"github.com/schaermu/replicad/internal/notify"
	replsync "github.com/schaermu/replicad/internal/sync"
)

// Daemon schedules reconciliation cycles
type Daemon struct {
	cfg      *config.Config
	engine   *replsync.Engine
	logger   *slog.Logger
	notifier notify.Notifier

	// trigger carries early-cycle requests from the watcher or the HTTP
	// server. Capacity 1: requests landing mid-cycle collapse into at most
	// one pending re-run.
	trigger chan struct{}

	lastMu sync.Mutex
	last   *replsync.CycleReport
}

// New creates a new daemon
func New(cfg *config.Config, engine *replsync.Engine, logger *slog.Logger, notifier notify.Notifier) *Daemon {
	return &Daemon{
		cfg:      cfg,
		engine:   engine,
		logger:   logger,
		notifier: notifier,
		trigger:  make(chan struct{}, 1),
	}
}

// TriggerSync requests an early cycle. Safe to call from any goroutine;
// requests are collapsed, never queued.
func (d *Daemon) TriggerSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// LastReport returns the most recent cycle report, or nil before the first
// completed cycle. The report is in-memory only; nothing persists across
// restarts.
func (d *Daemon) LastReport() *replsync.CycleReport {
	d.lastMu.Lock()
	defer d.lastMu.Unlock()
	return d.last
}

func (d *Daemon) storeReport(r *replsync.CycleReport) {
	d.lastMu.Lock()
	d.last = r
	d.lastMu.Unlock()
}

// Run executes cycles until the context is canceled. Steady-state cycle
// failures (including a source root that vanished) are logged and the next
// cycle is always attempted; they never kill the loop.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.notifier.Ready(); err != nil {
		d.logger.Warn("failed to notify readiness", "error", err)
	}
	defer func() {
		if err := d.notifier.Stopping(); err != nil {
			d.logger.Warn("failed to notify shutdown", "error", err)
		}
	}()

	if d.cfg.Sync.Watch {
		w, err := newWatcher(d.cfg.Paths.Source, d.logger, d.TriggerSync)
		if err != nil {
			return fmt.Errorf("failed to start source watcher: %w", err)
		}
		defer func() {
			_ = w.Close()
		}()
		d.logger.Info("watching source tree", "path", d.cfg.Paths.Source)
	}

	for {
		start := time.Now()

		report, err := d.engine.RunCycle(ctx)
		if report != nil {
			d.storeReport(report)
		}
		switch {
		case ctx.Err() != nil:
			d.logger.Info("shutting down")
			return nil
		case err != nil:
			d.logger.Error("cycle failed", "error", err)
		default:
			status := fmt.Sprintf("last cycle: created=%d modified=%d deleted=%d",
				report.Counts.Created, report.Counts.Modified, report.Counts.Deleted)
			if err := d.notifier.Status(status); err != nil {
				d.logger.Warn("failed to publish status", "error", err)
			}
		}

		// Sleep the remainder of the interval. A cycle longer than the
		// interval rolls straight into the next one.
		remaining := d.cfg.Interval() - time.Since(start)
		if remaining <= 0 {
			select {
			case <-ctx.Done():
				d.logger.Info("shutting down")
				return nil
			default:
			}
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("shutting down")
			return nil
		case <-d.trigger:
			timer.Stop()
			d.logger.Info("early cycle triggered")
		case <-timer.C:
		}
	}
}
