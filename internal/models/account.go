package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Connected account statuses
const (
	AccountStatusConnected    = "connected"
	AccountStatusDisconnected = "disconnected"
	AccountStatusExpired      = "expired"
)

// ConnectedAccount is the local record of an account a user linked
type ConnectedAccount struct {
	Id                int64           `json:"-"`
	UserId            string          `json:"userId"`
	Provider          Provider        `json:"provider"`
	ExternalAccountId string          `json:"accountId"`
	ConnectionId      string          `json:"connectionId,omitempty"`
	DisplayName       string          `json:"displayName"`
	InstitutionName   string          `json:"institutionName"`
	Subtype           string          `json:"subtype,omitempty"`
	MaskedNumber      string          `json:"maskedNumber,omitempty"`
	Currency          string          `json:"currency"`
	Balance           decimal.Decimal `json:"balance"`
	Status            string          `json:"status"`
	Active            bool            `json:"-"`
	CredentialRef     string          `json:"-"`
	LastSyncedAt      *time.Time      `json:"lastSyncedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// ProviderConnection mirrors an upstream authorization for a user
type ProviderConnection struct {
	UserId          string
	Provider        Provider
	AuthorizationId string
	InstitutionName string
	Disabled        bool
	RefreshedAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProviderAccount is the mirrored account details section
type ProviderAccount struct {
	AccountId       string           `json:"accountId"`
	UserId          string           `json:"-"`
	Provider        Provider         `json:"provider"`
	ConnectionId    string           `json:"connectionId,omitempty"`
	Name            string           `json:"name"`
	InstitutionName string           `json:"institutionName"`
	Subtype         string           `json:"subtype,omitempty"`
	MaskedNumber    string           `json:"maskedNumber,omitempty"`
	Currency        string           `json:"currency"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	Status          string           `json:"status,omitempty"`
	SyncedAt        time.Time        `json:"syncedAt"`
}

// ToConnectedAccount projects upstream details onto the local account record.
// An unknown upstream balance keeps the previous last-known balance.
func (a ProviderAccount) ToConnectedAccount(userId string, previous decimal.Decimal) ConnectedAccount {
	synced := a.SyncedAt
	balance := previous
	if a.Balance != nil {
		balance = *a.Balance
	}
	return ConnectedAccount{
		UserId:            userId,
		Provider:          a.Provider,
		ExternalAccountId: a.AccountId,
		ConnectionId:      a.ConnectionId,
		DisplayName:       a.Name,
		InstitutionName:   a.InstitutionName,
		Subtype:           a.Subtype,
		MaskedNumber:      a.MaskedNumber,
		Currency:          a.Currency,
		Balance:           balance,
		Status:            AccountStatusConnected,
		Active:            true,
		CredentialRef:     a.ConnectionId,
		LastSyncedAt:      &synced,
	}
}
