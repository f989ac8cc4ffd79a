package models

import "time"

// SectionError describes why one section of a view could not be loaded
type SectionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Section carries either the data of one resource or the error that replaced it
type Section[T any] struct {
	Data     T             `json:"data"`
	Error    *SectionError `json:"error,omitempty"`
	Source   string        `json:"source,omitempty"`
	SyncedAt *time.Time    `json:"syncedAt,omitempty"`
}

// OK reports whether the section loaded without error
func (s Section[T]) OK() bool { return s.Error == nil }

// Section sources
const (
	SourceMirror   = "mirror"
	SourceProvider = "provider"
)

// AccountView is the assembled per-account response
type AccountView struct {
	AccountId  string                      `json:"accountId"`
	Provider   Provider                    `json:"provider"`
	Details    Section[*ProviderAccount]   `json:"details"`
	Balances   Section[[]ProviderBalance]  `json:"balances"`
	Positions  Section[[]ProviderPosition] `json:"positions"`
	Orders     Section[[]ProviderOrder]    `json:"orders"`
	Activities Section[[]ProviderActivity] `json:"activities"`
	FromCache  bool                        `json:"fromCache"`
	AsOf       time.Time                   `json:"asOf"`
}

// Complete reports whether every section loaded
func (v *AccountView) Complete() bool {
	return v.Details.OK() && v.Balances.OK() && v.Positions.OK() && v.Orders.OK() && v.Activities.OK()
}

// PortfolioTotal is the summed balance of all accounts in one currency
type PortfolioTotal struct {
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
}

// Portfolio lists a user's connected accounts with per-currency totals
type Portfolio struct {
	UserId   string             `json:"userId"`
	Accounts []ConnectedAccount `json:"accounts"`
	Totals   []PortfolioTotal   `json:"totals"`
}
