package models

// SyncEntry is one account in a reconciliation report
type SyncEntry struct {
	AccountId       string `json:"accountId"`
	Name            string `json:"name"`
	InstitutionName string `json:"institutionName,omitempty"`
}

// SyncSet is a counted list of accounts
type SyncSet struct {
	Count    int         `json:"count"`
	Accounts []SyncEntry `json:"accounts"`
}

// SyncReport compares upstream accounts with locally connected ones
type SyncReport struct {
	UserId         string  `json:"userId"`
	Provider       string  `json:"provider"`
	InProviderOnly SyncSet `json:"inProviderOnly"`
	InDatabaseOnly SyncSet `json:"inDatabaseOnly"`
	Synced         SyncSet `json:"synced"`
}

// SyncError records one item that could not be mirrored
type SyncError struct {
	Id      string `json:"id"`
	Message string `json:"message"`
}

// SyncResult summarizes a force sync
type SyncResult struct {
	ConnectionsCreated int         `json:"connectionsCreated"`
	ConnectionsUpdated int         `json:"connectionsUpdated"`
	AccountsCreated    int         `json:"accountsCreated"`
	AccountsUpdated    int         `json:"accountsUpdated"`
	Errors             []SyncError `json:"errors"`
}

// DisconnectResult summarizes an account disconnect
type DisconnectResult struct {
	AccountsRemoved    int64 `json:"accountsRemoved"`
	CredentialsDeleted bool  `json:"credentialsDeleted"`
}

// CleanupResult counts rows removed by a provider cleanup
type CleanupResult struct {
	Balances          int64 `json:"balances"`
	Positions         int64 `json:"positions"`
	Orders            int64 `json:"orders"`
	Activities        int64 `json:"activities"`
	ProviderAccounts  int64 `json:"providerAccounts"`
	ConnectedAccounts int64 `json:"connectedAccounts"`
	Connections       int64 `json:"connections"`
}
