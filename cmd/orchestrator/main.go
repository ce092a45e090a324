/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"transfer-orchestrator-go/internal/common"
	"transfer-orchestrator-go/internal/config"
	"transfer-orchestrator-go/internal/monitor"
	"transfer-orchestrator-go/internal/scheduler"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting transfer orchestrator")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	monitorSvc := monitor.NewService(monitor.ServiceParams{
		Store:    services.Store,
		Notifier: services.Notifier,
		Config:   cfg.Monitor,
	})

	schedulerSvc := scheduler.NewService(scheduler.ServiceParams{
		Store:    services.Store,
		Executor: services.Executor,
		Notifier: services.Notifier,
		Journal:  services.Journal,
		Registry: services.Registry,
		Watcher:  monitorSvc,
		Config:   cfg.Scheduler,
	})

	schedulerSvc.Start(ctx)
	monitorSvc.Start(ctx)

	zap.L().Info("Orchestrator running",
		zap.Duration("scheduler_tick", cfg.Scheduler.TickInterval),
		zap.Duration("monitor_poll", cfg.Monitor.PollInterval))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping loops...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			schedulerSvc.Stop()
		}()
		go func() {
			defer wg.Done()
			monitorSvc.Stop()
		}()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Orchestrator stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
