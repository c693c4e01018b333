// Package daemon holds the control-loop driver shared by the VCPU
// scheduler and the memory coordinator: sleep, run one cycle, repeat,
// with signal-aware shutdown and a category-coded failure taxonomy.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"helios-kvm-balancer/internal/config"
)

// Controller is one rebalancing loop. Init builds the cross-cycle
// tracking structures; Cycle runs one sample → classify → rebalance
// pass.
type Controller interface {
	Name() string
	Init(ctx context.Context) error
	Cycle(ctx context.Context) error
}

// Conn is the connection surface the driver needs for its health loop.
type Conn interface {
	Connect(ctx context.Context) error
	Healthy(ctx context.Context) error
	Close() error
}

type Runner struct {
	cfg    config.Config
	cycle  time.Duration
	logger *slog.Logger
	conn   Conn
	ctl    Controller
	health *HealthStatus
}

func NewRunner(cfg config.Config, cycle time.Duration, conn Conn, ctl Controller, health *HealthStatus, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		cycle:  cycle,
		logger: logger,
		conn:   conn,
		ctl:    ctl,
		health: health,
	}
}

// Run drives the controller until an unrecoverable error or a shutdown
// signal. The returned error, if any, carries the failure category for
// the process exit status.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting", "loop", r.ctl.Name(), "cycle", r.cycle)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- r.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Loop terminated by itself.
	case sig := <-sigCh:
		r.logger.Info("shutdown signal received", "signal", sig.String(), "timeout", r.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(r.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			r.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			r.logger.Warn("graceful shutdown timeout reached", "timeout", r.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	if err := r.conn.Close(); err != nil {
		r.logger.Warn("libvirt close failed", "error", err)
	}
	r.health.SetLibvirtConnected(false)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	r.logger.Info("stopped", "loop", r.ctl.Name())
	return nil
}

func (r *Runner) run(ctx context.Context) error {
	if err := r.conn.Connect(ctx); err != nil {
		return Fail(CategoryConnection, fmt.Errorf("initial libvirt connect: %w", err))
	}
	r.health.SetLibvirtConnected(true)

	if err := r.ctl.Init(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.runCycleLoop(gctx)
	})
	g.Go(func() error {
		return r.runHealthLoop(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) runCycleLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cycle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := r.ctl.Cycle(ctx)
			switch {
			case err == nil:
				r.health.MarkCycle(time.Now().UTC())
			case IsCycleLocal(err):
				// A failed pin/resize abandons the rest of this
				// cycle's pass; the next cycle reclassifies from
				// fresh samples.
				r.health.MarkApplyFailure()
				r.logger.Warn("rebalance pass aborted", "loop", r.ctl.Name(), "error", err)
			default:
				return err
			}
		}
	}
}

func (r *Runner) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(r.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.conn.Healthy(ctx); err != nil {
				r.health.SetLibvirtConnected(false)
				r.logger.Warn("libvirt health check failed", "error", err)
				continue
			}
			r.health.SetLibvirtConnected(true)
			r.logger.Debug("health", "loop", r.ctl.Name(), "snapshot", r.health.Snapshot())
		}
	}
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}
