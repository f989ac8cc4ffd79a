package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderBalance is one cash balance line of an account
type ProviderBalance struct {
	AccountId   string          `json:"accountId"`
	Currency    string          `json:"currency"`
	Cash        decimal.Decimal `json:"cash"`
	BuyingPower decimal.Decimal `json:"buyingPower"`
	SyncedAt    time.Time       `json:"syncedAt"`
}

// ProviderPosition is one holding of an account
type ProviderPosition struct {
	AccountId   string          `json:"accountId"`
	PositionId  string          `json:"positionId"`
	Symbol      string          `json:"symbol"`
	Description string          `json:"description,omitempty"`
	Units       decimal.Decimal `json:"units"`
	Price       decimal.Decimal `json:"price"`
	AverageCost decimal.Decimal `json:"averageCost"`
	Currency    string          `json:"currency"`
	SyncedAt    time.Time       `json:"syncedAt"`
}

// MarketValue is units times the last price
func (p ProviderPosition) MarketValue() decimal.Decimal {
	return p.Units.Mul(p.Price)
}

// ProviderOrder is an order as reported by the provider
type ProviderOrder struct {
	AccountId      string           `json:"accountId"`
	OrderId        string           `json:"orderId"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	OrderType      string           `json:"orderType"`
	TimeInForce    string           `json:"timeInForce"`
	Status         string           `json:"status"`
	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filledQuantity"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	ExecutionPrice *decimal.Decimal `json:"executionPrice,omitempty"`
	PlacedAt       time.Time        `json:"placedAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// ProviderActivity is one historical account event
type ProviderActivity struct {
	AccountId   string          `json:"accountId"`
	ActivityId  string          `json:"activityId"`
	Type        string          `json:"type"`
	Symbol      string          `json:"symbol,omitempty"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Units       decimal.Decimal `json:"units"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// AccountSnapshot caches a fully assembled account view
type AccountSnapshot struct {
	AccountId string
	UserId    string
	Payload   []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}
