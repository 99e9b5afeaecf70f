// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Command worker runs the Worker Runtime (spec §4.5) and Lease Janitor
// (spec §4.7) against the shared Queue Store, grounded on
// AMD-AGI-Primus-SaFE/Lens/modules/control-plane-controller's
// cmd/control-plane-controller/main.go's load-config/wire/signal-driven
// shutdown shape. No concrete JobExecutor is registered here: this
// binary is the generic worker host, the way TaskScheduler's consumers
// call RegisterExecutor themselves rather than the scheduler package
// registering one on their behalf — a deployment wires in whatever
// JobExecutor implementations its definitions need before Start.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/dispatcher"
	log "github.com/nrhinela/zoltag-sub001/pkg/logger/log"
	"github.com/nrhinela/zoltag-sub001/pkg/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, stopping worker...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Errorf("worker failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := log.InitGlobalLogger(&cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	db := store.DB()
	queue := database.NewQueueFacade(db)
	workflow := database.NewWorkflowFacade(db)
	disp := dispatcher.New(queue, cfg.Dispatcher)

	rt := worker.NewRuntime(db, queue, disp, workflow, cfg.Worker)
	jan := worker.NewJanitor(db, queue, workflow, cfg.Janitor)

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start worker runtime: %w", err)
	}
	defer rt.Stop()
	jan.Start(ctx)
	defer jan.Stop()

	log.Infof("worker %s started (concurrency=%d)", cfg.Worker.WorkerID, cfg.Worker.Concurrency)
	<-ctx.Done()
	log.Info("worker stopped")
	return nil
}
