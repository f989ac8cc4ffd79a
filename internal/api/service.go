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

// Package api exposes the portfolio, reconciliation and trading services over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/trading"

	"github.com/gorilla/mux"
)

// Accounts serves portfolio reads
type Accounts interface {
	ListPortfolio(ctx context.Context, userId string) (*models.Portfolio, error)
	GetAccountView(ctx context.Context, userId string, p models.Provider, accountId string) (*models.AccountView, error)
}

// Connections serves reconciliation and lifecycle operations
type Connections interface {
	CheckSync(ctx context.Context, userId string, p models.Provider) (*models.SyncReport, error)
	ForceSync(ctx context.Context, userId string, p models.Provider) (*models.SyncResult, error)
	Register(ctx context.Context, userId string, p models.Provider) (*models.ProviderCredential, error)
	Disconnect(ctx context.Context, userId, accountId string, p models.Provider) (*models.DisconnectResult, error)
	CleanupProvider(ctx context.Context, userId string, p models.Provider) (*models.CleanupResult, error)
}

// Trades serves order mutations
type Trades interface {
	Preview(ctx context.Context, req models.OrderRequest) (*models.TradePreview, error)
	Place(ctx context.Context, req models.OrderRequest) (*trading.OrderResult, error)
	Cancel(ctx context.Context, userId, accountId, orderId string) (*trading.OrderResult, error)
	Replace(ctx context.Context, req models.ReplaceRequest) (*trading.ReplaceResult, error)
}

// HealthChecker reports whether backing storage is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server routes HTTP requests to the domain services
type Server struct {
	accounts    Accounts
	connections Connections
	trades      Trades
	health      HealthChecker
	now         func() time.Time
}

func NewServer(accounts Accounts, connections Connections, trades Trades, health HealthChecker) *Server {
	return &Server{
		accounts:    accounts,
		connections: connections,
		trades:      trades,
		health:      health,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Router builds the route table. Everything under /api requires a caller identity.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(requestIdMiddleware)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{accountId}", s.handleGetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{accountId}/disconnect", s.handleDisconnect).Methods(http.MethodPost)

	api.HandleFunc("/connections/sync", s.handleCheckSync).Methods(http.MethodGet)
	api.HandleFunc("/connections/sync", s.handleForceSync).Methods(http.MethodPost)
	api.HandleFunc("/connections/register", s.handleRegister).Methods(http.MethodPost)

	api.HandleFunc("/trades/preview", s.handlePreview).Methods(http.MethodPost)
	api.HandleFunc("/trades", s.handlePlace).Methods(http.MethodPost)
	api.HandleFunc("/trades/{orderId}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/trades/{orderId}/replace", s.handleReplace).Methods(http.MethodPost)

	api.HandleFunc("/admin/users/{userId}/{provider}", s.handleCleanupProvider).Methods(http.MethodDelete)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		setErrorResponse(w, r, fmt.Errorf("database health check failed: %w", err))
		return
	}
	setResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   s.now().Format(time.RFC3339),
	})
}
