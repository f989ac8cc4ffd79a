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

package provider

import (
	"context"
	"errors"
	"fmt"

	"unified-portfolio-go/internal/models"
)

// Credential is the caller's secret for one provider, resolved once per request.
type Credential = *models.ProviderCredential

// ErrUnsupportedProvider is returned when no adapter is registered for a kind.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Adapter is the read and teardown surface every upstream implements.
// Adapters hold no state between calls.
type Adapter interface {
	Kind() models.Provider

	ListAuthorizations(ctx context.Context, cred Credential) ([]models.Authorization, error)
	ListAccounts(ctx context.Context, cred Credential) ([]models.ProviderAccount, error)

	FetchDetails(ctx context.Context, cred Credential, accountId string) (*models.ProviderAccount, error)
	FetchBalances(ctx context.Context, cred Credential, accountId string) ([]models.ProviderBalance, error)
	FetchPositions(ctx context.Context, cred Credential, accountId string) ([]models.ProviderPosition, error)
	FetchOrders(ctx context.Context, cred Credential, accountId string) ([]models.ProviderOrder, error)
	FetchActivities(ctx context.Context, cred Credential, accountId string) ([]models.ProviderActivity, error)

	RemoveAuthorization(ctx context.Context, cred Credential, authorizationId string) error
	DeleteUser(ctx context.Context, cred Credential) error
}

// Registrar is implemented by providers that issue per-user credentials.
type Registrar interface {
	RegisterUser(ctx context.Context, userId string) (*models.ProviderCredential, error)
}

// Trader is the order mutation surface of the brokerage.
type Trader interface {
	ResolveInstrument(ctx context.Context, cred Credential, accountId, symbol string) (*models.Instrument, error)
	PreviewOrder(ctx context.Context, cred Credential, order models.OrderRequest, instrument models.Instrument) (*models.OrderImpact, error)
	PlaceTrade(ctx context.Context, cred Credential, tradeId, idempotencyKey string) (*models.ProviderOrder, error)
	PlaceOrder(ctx context.Context, cred Credential, order models.OrderRequest, instrument models.Instrument, idempotencyKey string) (*models.ProviderOrder, error)
	CancelOrder(ctx context.Context, cred Credential, accountId, orderId string) (*models.ProviderOrder, error)
	ReplaceOrder(ctx context.Context, cred Credential, req models.ReplaceRequest) (*models.ProviderOrder, error)
}

// Registry dispatches to the adapter registered for each provider kind.
type Registry struct {
	adapters map[models.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Kind()] = a
		}
	}
	return r
}

// Get returns the adapter for p.
func (r *Registry) Get(p models.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, p)
	}
	return a, nil
}

// Kinds lists the registered provider kinds in display order.
func (r *Registry) Kinds() []models.Provider {
	var kinds []models.Provider
	for _, p := range models.Providers {
		if _, ok := r.adapters[p]; ok {
			kinds = append(kinds, p)
		}
	}
	return kinds
}
