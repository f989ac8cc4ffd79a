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
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"unified-portfolio-go/internal/api"
	"unified-portfolio-go/internal/common"
	"unified-portfolio-go/internal/config"
	"unified-portfolio-go/internal/listener"
	"unified-portfolio-go/internal/models"

	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting unified portfolio server")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var syncListener *listener.SyncListener
	if cfg.Listener.Enabled {
		syncListener = listener.NewSyncListener(listener.SyncListenerConfig{
			Syncer:        services.ReconcileSvc,
			Store:         services.DbService,
			Provider:      models.ProviderBrokerage,
			SyncInterval:  cfg.Listener.SyncInterval,
			PurgeInterval: cfg.Listener.PurgeInterval,
		})
		if err := syncListener.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start sync listener", zap.Error(err))
		}
	} else {
		zap.L().Info("Background sync disabled (SYNC_ENABLED=false)")
	}

	server := api.NewServer(services.AggregationSvc, services.ReconcileSvc, services.TradingSvc, services.DbService)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
	}

	if syncListener != nil {
		syncListener.Stop()
	}
	zap.L().Info("Server stopped gracefully")
}
