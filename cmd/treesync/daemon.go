package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/openmirror/treesync/internal/config"
	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/sync"
)

const statusInterval = 30 * time.Second

type daemon struct {
	cfg     *config.Config
	manager *sync.Manager
	targets []*sync.Target
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	manager := sync.NewManager(&sync.ManagerConfig{
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay,
	})

	targets := make([]*sync.Target, 0, len(cfg.Targets))
	for _, spec := range cfg.Targets {
		adapter, err := sync.NewAdapter(storage.BackendType(spec.Backend), &sync.AdapterParams{Path: spec.Path})
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", spec.ID, err)
		}
		targets = append(targets, sync.NewTarget(adapter, &sync.TargetConfig{
			ID:             spec.ID,
			Role:           sync.Role(spec.Role),
			PollInterval:   cfg.Sync.PollInterval,
			Debounce:       cfg.Sync.Debounce,
			MaxBatch:       cfg.Sync.MaxBatch,
			LockTimeout:    cfg.Sync.LockTimeout,
			IgnorePatterns: spec.Ignore,
		}))
	}

	return &daemon{cfg: cfg, manager: manager, targets: targets}, nil
}

func (d *daemon) run(ctx context.Context) error {
	for _, t := range d.targets {
		if err := d.manager.RegisterTarget(ctx, t); err != nil {
			d.manager.Dispose()
			return fmt.Errorf("register %q: %w", t.ID(), err)
		}
	}
	if err := d.manager.Initialize(ctx); err != nil {
		d.manager.Dispose()
		return err
	}
	slog.Info("daemon running", "targets", len(d.targets))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				d.logStatus()
			}
		}
	})

	err := g.Wait()
	d.manager.Dispose()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *daemon) logStatus() {
	status := d.manager.Status()

	lastSync := "never"
	if !status.LastSyncTime.IsZero() {
		lastSync = humanize.Time(status.LastSyncTime)
	}

	args := []any{"phase", status.Phase, "last_sync", lastSync}
	for _, t := range status.Targets {
		args = append(args, fmt.Sprintf("%s_pending", t.ID), t.PendingChanges)
	}
	if status.PendingSync != nil {
		args = append(args, "pending_source", status.PendingSync.SourceTargetID)
	}
	if status.CurrentFailure != nil {
		args = append(args, "failure", status.CurrentFailure.Err)
	}
	slog.Info("sync status", args...)
}
