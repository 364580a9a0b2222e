package domain

// Account is a settlement bank account owned by a client, as returned by the
// account inventory provider.
type Account struct {
	ID                 string `json:"id"`
	ClientID           string `json:"client_id"`
	BankCode           string `json:"bank_code"`
	AccountNumber      string `json:"account_number"`
	Description        string `json:"description"`
	CredentialsTokenID string `json:"credentials_token_id"`
	IsActive           bool   `json:"is_active"`
}

// AccountPriority is one entry of a client's priority configuration.
type AccountPriority struct {
	AccountID  string  `json:"account_id"`
	BankCode   string  `json:"bank_code"`
	Percentual float64 `json:"percentual"`
}

// PriorityConfiguration is the weighting a client configured across its
// settlement accounts. TotalPercentual and IsValid are carried for audit but
// are not enforced at selection time; weights are consumed as supplied.
type PriorityConfiguration struct {
	ClientID        string            `json:"client_id"`
	Accounts        []AccountPriority `json:"accounts"`
	TotalPercentual float64           `json:"total_percentual"`
	IsValid         bool              `json:"is_valid"`
}

// AccountWithPriority annotates an inventory account with its configured
// weight, if any.
type AccountWithPriority struct {
	Account     Account `json:"account"`
	Weight      float64 `json:"weight"`
	HasPriority bool    `json:"has_priority"`
}

// SelectedAccountInfo is the ephemeral output of a routing decision. It is
// not persisted here; callers may log it for audit.
type SelectedAccountInfo struct {
	Account         Account `json:"account"`
	Weight          float64 `json:"weight"`
	SelectionReason string  `json:"selection_reason"`
}
