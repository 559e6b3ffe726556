package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the account owner as handed to us by the auth layer. The backend
// never creates users here; it only reads identity and display data.
type User struct {
	ID              uuid.UUID
	Email           string
	FirstName       string
	LastName        string
	IsEmailVerified bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DisplayName returns the name the assistant addresses the user by.
func (u User) DisplayName() string {
	if u.FirstName == "" {
		return u.Email
	}
	return u.FirstName
}

// LinkedAccount is a bank account connected through the aggregation provider.
// Balance and AccountNumber are stored as field-level ciphertext; Institution
// is the provider's JSON document (name, bank code, logo) kept verbatim.
type LinkedAccount struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Provider          string
	ProviderAccountID string
	AccountName       string
	AccountType       string
	AccountNumber     string
	Currency          string
	Balance           string
	Institution       map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transaction is a normalized ledger entry. Amount is in minor currency
// units (kobo).
type Transaction struct {
	ID                    uuid.UUID
	AccountID             uuid.UUID
	UserID                uuid.UUID
	ProviderTransactionID string
	Amount                int64
	Currency              string
	Type                  string
	Category              string
	RawDescription        string
	NormalizedDescription string
	TransactionDate       time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Insight is a derived spending observation surfaced to the user.
type Insight struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Message   string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	InsightInfo    = "info"
	InsightWarning = "warning"
)

// ProviderAccount is the provider-agnostic shape of an account as returned by
// the aggregation API, before it is encrypted and persisted.
type ProviderAccount struct {
	ID            string
	Name          string
	Type          string
	AccountNumber string
	Currency      string
	Balance       int64
	Institution   map[string]any
}

// ProviderTransaction is a raw transaction from the aggregation API.
// Amount is in minor units; Type is "debit" or "credit".
type ProviderTransaction struct {
	ID        string
	Amount    int64
	Currency  string
	Type      string
	Narration string
	Date      time.Time
}
