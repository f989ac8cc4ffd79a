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
	"time"

	"github.com/shopspring/decimal"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types
const (
	OrderTypeMarket    = "MARKET"
	OrderTypeLimit     = "LIMIT"
	OrderTypeStop      = "STOP"
	OrderTypeStopLimit = "STOP_LIMIT"
)

// Time in force
const (
	TimeInForceDay = "DAY"
	TimeInForceGTC = "GTC"
	TimeInForceFOK = "FOK"
	TimeInForceIOC = "IOC"
)

// OrderRequest is a user's request to preview or place an order
type OrderRequest struct {
	UserId         string           `json:"-"`
	AccountId      string           `json:"accountId"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	OrderType      string           `json:"orderType"`
	TimeInForce    string           `json:"timeInForce"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice      *decimal.Decimal `json:"stopPrice,omitempty"`
	TradeId        string           `json:"tradeId,omitempty"`
	IdempotencyKey string           `json:"-"`
}

// Instrument is a provider symbol resolved for one account
type Instrument struct {
	Id          string `json:"id"`
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
	Currency    string `json:"currency"`
}

// OrderImpact is the provider's estimate for a resolved order
type OrderImpact struct {
	TradeId          string          `json:"tradeId"`
	EstimatedCost    decimal.Decimal `json:"estimatedCost"`
	EstimatedFees    decimal.Decimal `json:"estimatedFees"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	Currency         string          `json:"currency"`
}

// TradePreview is a stored preview a user can later place by tradeId
type TradePreview struct {
	TradeId    string       `json:"tradeId"`
	UserId     string       `json:"-"`
	AccountId  string       `json:"accountId"`
	Instrument Instrument   `json:"instrument"`
	Order      OrderRequest `json:"order"`
	Impact     OrderImpact  `json:"impact"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// ReplaceRequest changes price or quantity of an open order
type ReplaceRequest struct {
	UserId      string           `json:"-"`
	AccountId   string           `json:"accountId"`
	OrderId     string           `json:"-"`
	OrderType   string           `json:"orderType"`
	TimeInForce string           `json:"timeInForce"`
	Quantity    decimal.Decimal  `json:"quantity"`
	LimitPrice  *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice   *decimal.Decimal `json:"stopPrice,omitempty"`
}

// Submission statuses
const (
	SubmissionPending   = "PENDING"
	SubmissionCompleted = "COMPLETED"
	SubmissionFailed    = "FAILED"
)

// TradeSubmission tracks one idempotency key across placement attempts
type TradeSubmission struct {
	IdempotencyKey string
	UserId         string
	AccountId      string
	TradeId        string
	// Fingerprint identifies the order payload the key was first used for.
	Fingerprint    string
	Status         string
	OrderId        string
	Response       []byte
	ErrorKind      string
	ErrorMessage   string
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Trade activity actions and outcomes
const (
	TradeActionPreview = "preview"
	TradeActionPlace   = "place"
	TradeActionCancel  = "cancel"
	TradeActionReplace = "replace"

	TradeOutcomeSucceeded    = "succeeded"
	TradeOutcomeFailed       = "failed"
	TradeOutcomeDeduplicated = "deduplicated"
)

// TradeActivity is one audit record of a trading mutation attempt
type TradeActivity struct {
	Id             string    `json:"id"`
	UserId         string    `json:"userId"`
	AccountId      string    `json:"accountId"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"`
	OrderId        string    `json:"orderId,omitempty"`
	TradeId        string    `json:"tradeId,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Symbol         string    `json:"symbol,omitempty"`
	ErrorKind      string    `json:"errorKind,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
