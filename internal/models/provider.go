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

package models

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies an external financial data provider
type Provider string

const (
	ProviderBanking   Provider = "banking"
	ProviderBrokerage Provider = "brokerage"
	ProviderWallet    Provider = "wallet"
)

// Providers lists every provider kind in display order
var Providers = []Provider{ProviderBanking, ProviderBrokerage, ProviderWallet}

// ParseProvider normalizes a provider name and rejects unknown kinds
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

func (p Provider) String() string { return string(p) }

// Resource names one mirrored section of an account
type Resource string

const (
	ResourceDetails    Resource = "details"
	ResourceBalances   Resource = "balances"
	ResourcePositions  Resource = "positions"
	ResourceOrders     Resource = "orders"
	ResourceActivities Resource = "activities"
)

// Resources lists every mirrored section
var Resources = []Resource{ResourceDetails, ResourceBalances, ResourcePositions, ResourceOrders, ResourceActivities}

// ProviderCredential is the per-user secret issued by a provider
type ProviderCredential struct {
	UserId         string
	Provider       Provider
	ProviderUserId string
	Secret         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Authorization is a user-approved grant for one upstream institution
type Authorization struct {
	Id              string    `json:"id"`
	InstitutionName string    `json:"institutionName"`
	Disabled        bool      `json:"disabled"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
