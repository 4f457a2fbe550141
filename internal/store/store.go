// Package store persists the fact catalogue, the instance cache, and the
// ledger feeds. Two implementations exist: SQLite for local use and
// PostgreSQL for shared deployments.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finq/internal/ledger"
	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/registry"
	"github.com/sells-group/finq/internal/resolve"
	"github.com/sells-group/finq/internal/router"
)

// Store is the persistence interface for the fact engine. It feeds the
// registry (definitions and approved versions), the resolver (the
// instance cache), the router (recognizers) and the ledger.
type Store interface {
	// Definitions
	CreateDefinition(ctx context.Context, def *model.FactDefinition) error
	GetDefinition(ctx context.Context, factID string) (*model.FactDefinition, error)
	ListDefinitions(ctx context.Context) ([]model.FactDefinition, error)
	ListActiveDefinitions(ctx context.Context) ([]model.FactDefinition, error)
	SetDefinitionActive(ctx context.Context, factID string, active bool) error

	// Versions
	CreateVersion(ctx context.Context, v *model.FactDefinitionVersion) error
	GetVersion(ctx context.Context, versionID string) (*model.FactDefinitionVersion, error)
	ListVersions(ctx context.Context, factID string) ([]model.FactDefinitionVersion, error)
	GetLatestApprovedVersion(ctx context.Context, factID string) (*model.FactDefinitionVersion, error)
	UpdateVersionStatus(ctx context.Context, versionID string, status model.VersionStatus) error

	// Recognizers
	SaveRecognizer(ctx context.Context, rec model.IntentRecognizer) error
	ListRecognizers(ctx context.Context) ([]router.Entry, error)

	// Instance cache
	GetInstance(ctx context.Context, versionID, contextHash string) (*model.FactInstance, error)
	CreateInstance(ctx context.Context, inst *model.FactInstance) (*model.FactInstance, bool, error)
	CreateInstanceDependencies(ctx context.Context, deps []model.FactInstanceDependency) error
	ListInstances(ctx context.Context, factID string, limit int) ([]model.FactInstance, error)

	// Questions and answers
	CreateQuestion(ctx context.Context, q *model.Question) error
	CreateAnswer(ctx context.Context, a *model.Answer) error

	// Proposals
	CreateProposal(ctx context.Context, p *model.TaxonomyProposal) error
	GetProposal(ctx context.Context, id string) (*model.TaxonomyProposal, error)
	ListProposals(ctx context.Context, status model.ProposalStatus) ([]model.TaxonomyProposal, error)
	UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus) error

	// Ledger feeds
	ledger.Store
	CreateAccount(ctx context.Context, a model.Account) error
	InsertBankTransactions(ctx context.Context, rows []model.BankTransaction) (int64, error)
	InsertCardCharges(ctx context.Context, rows []model.CardCharge) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store serves every collaborator.
var (
	_ resolve.Store   = Store(nil)
	_ registry.Source = Store(nil)
	_ router.Source   = Store(nil)
	_ ledger.Store    = Store(nil)
)

// marshalJSON serializes nullable JSON columns; nil in, empty out.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal json column")
	}
	return string(b), nil
}

func unmarshalJSON(data string, dst any) error {
	if data == "" || data == "null" {
		return nil
	}
	return eris.Wrap(json.Unmarshal([]byte(data), dst), "store: unmarshal json column")
}
