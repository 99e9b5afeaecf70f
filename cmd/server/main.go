// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Command server runs the Control API (spec §6.1/§6.2) alongside the
// Trigger Engine and Reconciler, grounded on
// AMD-AGI-Primus-SaFE/Lens/modules/control-plane-controller's
// cmd/control-plane-controller/main.go: load config, wire components,
// install a signal-driven graceful shutdown, run until canceled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nrhinela/zoltag-sub001/pkg/api"
	"github.com/nrhinela/zoltag-sub001/pkg/catalog"
	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	log "github.com/nrhinela/zoltag-sub001/pkg/logger/log"
	"github.com/nrhinela/zoltag-sub001/pkg/reconciler"
	"github.com/nrhinela/zoltag-sub001/pkg/trigger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, stopping server...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Errorf("server failed: %v", err)
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
	cat := catalog.New(db, cfg.Catalog.CacheTTL)
	trig := trigger.NewEngine(db, queue, cfg.Trigger)
	recon := reconciler.NewReconciler(workflow, cfg.Reconciler)

	trig.Start(ctx)
	defer trig.Stop()
	recon.Start(ctx)
	defer recon.Stop()

	srv := api.NewServer(db, queue, workflow, cat, trig)
	engine := srv.NewEngine(cfg.HTTP)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		log.Infof("Control API listening on %s", addr)
		errCh <- engine.Run(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("server stopped")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control API server: %w", err)
		}
		return nil
	}
}
