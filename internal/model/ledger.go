package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a bank or card account a ledger feed belongs to.
type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"user_id,omitempty"`
}

// BankTransaction is one row of the debit/credit ledger feed. The feed is
// append-only; the engine only ever reads it.
type BankTransaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	PostingDate time.Time       `json:"posting_date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Balance     decimal.Decimal `json:"balance"`
}

// CardCharge is one row of the card-charges feed.
type CardCharge struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	TransactionDate time.Time       `json:"transaction_date"`
	PostDate        time.Time       `json:"post_date"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
}
