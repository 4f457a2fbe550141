package ledger

import (
	"context"

	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/registry"
	"github.com/sells-group/finq/internal/table"
)

// AllTransactionsFactID is the base fact every spending fact ultimately
// depends on.
const AllTransactionsFactID = "ledger.all_transactions"

// NativeSpecs returns the built-in fact specs backed by this ledger.
// Their logic runs in-process rather than in the sandbox.
func (l *Ledger) NativeSpecs() []*registry.Spec {
	return []*registry.Spec{
		{
			ID:          AllTransactionsFactID,
			Kind:        model.KindObserved,
			DataType:    model.DataTypeDataframe,
			Description: "All bank transactions and card charges for a user, merged and normalized.",
			Logic: registry.ProducerFunc(func(ctx context.Context, deps, params map[string]any) (any, error) {
				records, err := l.AllTransactions(ctx, FilterFromContext(params))
				if err != nil {
					return nil, err
				}
				return table.FromRecords(records), nil
			}),
		},
	}
}
