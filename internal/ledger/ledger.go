// Package ledger adapts the two append-only transaction feeds (bank
// entries, card charges) into the normalized records the fact engine
// consumes. The engine treats the feeds as read-only; field names and
// types are normalized at this boundary: amounts to float64, dates to ISO
// strings.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/sandbox"
)

// Filter narrows a feed query. Zero values mean "no restriction".
type Filter struct {
	UserID    string
	AccountID string
	Category  string
	Start     time.Time
	End       time.Time
}

// Store is the persistence side of the ledger feeds.
type Store interface {
	ListAccounts(ctx context.Context, userID string) ([]model.Account, error)
	ListBankTransactions(ctx context.Context, f Filter) ([]model.BankTransaction, error)
	ListCardCharges(ctx context.Context, f Filter) ([]model.CardCharge, error)
}

// Ledger exposes normalized query primitives over the feeds.
type Ledger struct {
	store Store
}

// New creates a ledger over a store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// AllTransactions merges both feeds into one record list: bank rows carry
// the fixed category "Bank Transaction", card rows their own category.
// This backs the ledger.all_transactions base fact.
func (l *Ledger) AllTransactions(ctx context.Context, f Filter) ([]map[string]any, error) {
	accounts, err := l.store.ListAccounts(ctx, f.UserID)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list accounts")
	}
	names := make(map[string]string, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a.Name
	}

	bank, err := l.store.ListBankTransactions(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: bank transactions")
	}
	cards, err := l.store.ListCardCharges(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: card charges")
	}

	records := make([]map[string]any, 0, len(bank)+len(cards))
	for _, tx := range bank {
		amount, _ := tx.Amount.Float64()
		balance, _ := tx.Balance.Float64()
		records = append(records, map[string]any{
			"date":        tx.PostingDate.UTC().Format("2006-01-02"),
			"description": tx.Description,
			"amount":      amount,
			"balance":     balance,
			"type":        tx.Type,
			"account":     names[tx.AccountID],
			"category":    "Bank Transaction",
		})
	}
	for _, c := range cards {
		amount, _ := c.Amount.Float64()
		records = append(records, map[string]any{
			"date":        c.TransactionDate.UTC().Format("2006-01-02"),
			"description": c.Description,
			"amount":      amount,
			"type":        c.Type,
			"account":     names[c.AccountID],
			"category":    c.Category,
		})
	}
	return records, nil
}

// FilterFromContext reads the conventional filter keys out of a fact
// context.
func FilterFromContext(params map[string]any) Filter {
	var f Filter
	if v, ok := params["user"].(string); ok {
		f.UserID = v
	}
	if v, ok := params["account"].(string); ok {
		f.AccountID = v
	}
	if v, ok := params["category"].(string); ok {
		f.Category = v
	}
	if v, ok := params["start_date"].(string); ok {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.Start = t
		}
	}
	if v, ok := params["end_date"].(string); ok {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.End = t
		}
	}
	return f
}

// QueryFuncs returns the read-only handles injected into code logic under
// the `ledger` object.
func (l *Ledger) QueryFuncs() map[string]sandbox.QueryFunc {
	return map[string]sandbox.QueryFunc{
		"all_transactions": func(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
			return l.AllTransactions(ctx, FilterFromContext(filter))
		},
		"bank_transactions": func(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
			rows, err := l.store.ListBankTransactions(ctx, FilterFromContext(filter))
			if err != nil {
				return nil, eris.Wrap(err, "ledger: bank transactions")
			}
			records := make([]map[string]any, 0, len(rows))
			for _, tx := range rows {
				amount, _ := tx.Amount.Float64()
				balance, _ := tx.Balance.Float64()
				records = append(records, map[string]any{
					"date":        tx.PostingDate.UTC().Format("2006-01-02"),
					"description": tx.Description,
					"amount":      amount,
					"balance":     balance,
					"type":        tx.Type,
					"account_id":  tx.AccountID,
				})
			}
			return records, nil
		},
		"card_charges": func(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
			rows, err := l.store.ListCardCharges(ctx, FilterFromContext(filter))
			if err != nil {
				return nil, eris.Wrap(err, "ledger: card charges")
			}
			records := make([]map[string]any, 0, len(rows))
			for _, c := range rows {
				amount, _ := c.Amount.Float64()
				records = append(records, map[string]any{
					"date":        c.TransactionDate.UTC().Format("2006-01-02"),
					"description": c.Description,
					"amount":      amount,
					"type":        c.Type,
					"category":    c.Category,
					"account_id":  c.AccountID,
				})
			}
			return records, nil
		},
	}
}
