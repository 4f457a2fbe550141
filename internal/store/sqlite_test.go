package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finq/internal/ledger"
	"github.com/sells-group/finq/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedFact(t *testing.T, st *SQLiteStore, factID string, status model.VersionStatus) *model.FactDefinitionVersion {
	t.Helper()
	ctx := context.Background()

	def, err := st.GetDefinition(ctx, factID)
	require.NoError(t, err)
	if def == nil {
		require.NoError(t, st.CreateDefinition(ctx, &model.FactDefinition{
			ID:       factID,
			Kind:     model.KindComputed,
			DataType: model.DataTypeScalar,
			Active:   true,
		}))
	}

	existing, err := st.ListVersions(ctx, factID)
	require.NoError(t, err)
	v := &model.FactDefinitionVersion{
		FactID:    factID,
		Version:   len(existing) + 1,
		Status:    status,
		LogicType: model.LogicExpression,
		Logic:     "1 + 1",
	}
	require.NoError(t, st.CreateVersion(ctx, v))
	return v
}

// --- Definitions & versions ---

func TestSQLite_DefinitionRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateDefinition(ctx, &model.FactDefinition{
		ID:          "spend.total",
		Description: "Total spend",
		Kind:        model.KindComputed,
		DataType:    model.DataTypeScalar,
		Active:      true,
	}))

	def, err := st.GetDefinition(ctx, "spend.total")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "Total spend", def.Description)
	assert.True(t, def.Active)

	missing, err := st.GetDefinition(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_ListActiveDefinitions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedFact(t, st, "fact.a", model.VersionApproved)
	seedFact(t, st, "fact.b", model.VersionApproved)
	require.NoError(t, st.SetDefinitionActive(ctx, "fact.b", false))

	defs, err := st.ListActiveDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "fact.a", defs[0].ID)

	all, err := st.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_GetLatestApprovedVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedFact(t, st, "fact.a", model.VersionApproved)
	v2 := seedFact(t, st, "fact.a", model.VersionApproved)
	seedFact(t, st, "fact.a", model.VersionDraft)

	latest, err := st.GetLatestApprovedVersion(ctx, "fact.a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, v2.ID, latest.ID)
	assert.Equal(t, 2, latest.Version)
}

func TestSQLite_GetLatestApprovedVersion_NoneApproved(t *testing.T) {
	st := newTestSQLiteStore(t)

	seedFact(t, st, "fact.a", model.VersionDraft)

	latest, err := st.GetLatestApprovedVersion(context.Background(), "fact.a")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSQLite_VersionFieldsSurviveRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateDefinition(ctx, &model.FactDefinition{
		ID: "fact.a", Kind: model.KindComputed, DataType: model.DataTypeScalar, Active: true,
	}))
	v := &model.FactDefinitionVersion{
		FactID:    "fact.a",
		Version:   1,
		Status:    model.VersionApproved,
		LogicType: model.LogicExpression,
		Logic:     `deps["fact.b"] * 2`,
		Requires:  []string{"fact.c"},
		Dependencies: []model.DependencyEdge{
			{ToFactID: "fact.b", ParamMapping: map[string]string{"x": "{{val}}"}, Condition: "val > 0"},
		},
		ParametersSchema: `{"type":"object"}`,
		OutputTemplate:   "Result: {{value}}",
		TestCases:        []model.TestCase{{Context: map[string]any{"val": 1.0}, Expected: 2.0}},
	}
	require.NoError(t, st.CreateVersion(ctx, v))

	got, err := st.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"fact.c"}, got.Requires)
	require.Len(t, got.Dependencies, 1)
	assert.Equal(t, "fact.b", got.Dependencies[0].ToFactID)
	assert.Equal(t, "{{val}}", got.Dependencies[0].ParamMapping["x"])
	assert.Equal(t, "val > 0", got.Dependencies[0].Condition)
	assert.Equal(t, `{"type":"object"}`, got.ParametersSchema)
	assert.Equal(t, "Result: {{value}}", got.OutputTemplate)
	require.Len(t, got.TestCases, 1)
}

func TestSQLite_UpdateVersionStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v := seedFact(t, st, "fact.a", model.VersionDraft)
	require.NoError(t, st.UpdateVersionStatus(ctx, v.ID, model.VersionApproved))

	got, err := st.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionApproved, got.Status)

	err = st.UpdateVersionStatus(ctx, "missing", model.VersionApproved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version not found")
}

// --- Recognizers ---

func TestSQLite_ListRecognizers_LatestApprovedOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v1 := seedFact(t, st, "fact.a", model.VersionApproved)
	v2 := seedFact(t, st, "fact.a", model.VersionApproved)
	require.NoError(t, st.SaveRecognizer(ctx, model.IntentRecognizer{
		VersionID: v1.ID, Keywords: []string{"old"},
	}))
	require.NoError(t, st.SaveRecognizer(ctx, model.IntentRecognizer{
		VersionID: v2.ID, Keywords: []string{"spend", "total"}, RegexPatterns: []string{`^total`},
	}))

	entries, err := st.ListRecognizers(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, v2.ID, entries[0].Version.ID)
	assert.Equal(t, []string{"spend", "total"}, entries[0].Recognizer.Keywords)
	assert.Equal(t, []string{`^total`}, entries[0].Recognizer.RegexPatterns)
}

func TestSQLite_ListRecognizers_SkipsInactiveDefinitions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v := seedFact(t, st, "fact.a", model.VersionApproved)
	require.NoError(t, st.SaveRecognizer(ctx, model.IntentRecognizer{VersionID: v.ID, Keywords: []string{"x"}}))
	require.NoError(t, st.SetDefinitionActive(ctx, "fact.a", false))

	entries, err := st.ListRecognizers(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// --- Instance cache ---

func TestSQLite_InstanceRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v := seedFact(t, st, "fact.a", model.VersionApproved)
	inst := &model.FactInstance{
		VersionID:   v.ID,
		FactID:      "fact.a",
		Context:     map[string]any{"month": "2026-03"},
		ContextHash: "abc123",
		Value:       42.5,
		Status:      model.InstanceSuccess,
		Confidence:  1.0,
		Provenance: &model.Provenance{
			DependencyInstanceIDs: []string{"dep-1"},
			InputContext:          map[string]any{"month": "2026-03"},
			Timestamp:             time.Now().UTC(),
		},
	}

	winner, created, err := st.CreateInstance(ctx, inst)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotEmpty(t, winner.ID)

	got, err := st.GetInstance(ctx, v.ID, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, winner.ID, got.ID)
	assert.Equal(t, 42.5, got.Value)
	assert.Equal(t, model.InstanceSuccess, got.Status)
	require.NotNil(t, got.Provenance)
	assert.Equal(t, []string{"dep-1"}, got.Provenance.DependencyInstanceIDs)
}

func TestSQLite_CreateInstance_DuplicateReturnsWinner(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v := seedFact(t, st, "fact.a", model.VersionApproved)
	first := &model.FactInstance{
		VersionID: v.ID, FactID: "fact.a",
		Context: map[string]any{}, ContextHash: "h1",
		Value: 1.0, Status: model.InstanceSuccess,
	}
	_, created, err := st.CreateInstance(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	second := &model.FactInstance{
		VersionID: v.ID, FactID: "fact.a",
		Context: map[string]any{}, ContextHash: "h1",
		Value: 2.0, Status: model.InstanceSuccess,
	}
	winner, created, err := st.CreateInstance(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, winner.ID)
	assert.Equal(t, 1.0, winner.Value)
}

func TestSQLite_ErrorInstancePersisted(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v := seedFact(t, st, "fact.a", model.VersionApproved)
	inst := &model.FactInstance{
		VersionID: v.ID, FactID: "fact.a",
		Context: map[string]any{}, ContextHash: "h-err",
		Status: model.InstanceError, Error: "division by zero",
	}
	_, created, err := st.CreateInstance(ctx, inst)
	require.NoError(t, err)
	require.True(t, created)

	got, err := st.GetInstance(ctx, v.ID, "h-err")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.InstanceError, got.Status)
	assert.Equal(t, "division by zero", got.Error)
	assert.Nil(t, got.Value)
}

func TestSQLite_InstanceDependencies(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v := seedFact(t, st, "fact.a", model.VersionApproved)
	parent := &model.FactInstance{
		VersionID: v.ID, FactID: "fact.a",
		Context: map[string]any{}, ContextHash: "hp",
		Value: 1.0, Status: model.InstanceSuccess,
	}
	child := &model.FactInstance{
		VersionID: v.ID, FactID: "fact.a",
		Context: map[string]any{"x": 1.0}, ContextHash: "hc",
		Value: 2.0, Status: model.InstanceSuccess,
	}
	_, _, err := st.CreateInstance(ctx, parent)
	require.NoError(t, err)
	_, _, err = st.CreateInstance(ctx, child)
	require.NoError(t, err)

	require.NoError(t, st.CreateInstanceDependencies(ctx, []model.FactInstanceDependency{
		{InstanceID: parent.ID, DependencyID: child.ID, DependencyFact: "fact.a"},
	}))
	// re-inserting the same edge is a no-op
	require.NoError(t, st.CreateInstanceDependencies(ctx, []model.FactInstanceDependency{
		{InstanceID: parent.ID, DependencyID: child.ID, DependencyFact: "fact.a"},
	}))
}

func TestSQLite_ListInstances(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v := seedFact(t, st, "fact.a", model.VersionApproved)
	for i, hash := range []string{"h1", "h2", "h3"} {
		_, _, err := st.CreateInstance(ctx, &model.FactInstance{
			VersionID: v.ID, FactID: "fact.a",
			Context: map[string]any{}, ContextHash: hash,
			Value: float64(i), Status: model.InstanceSuccess,
		})
		require.NoError(t, err)
	}

	instances, err := st.ListInstances(ctx, "fact.a", 2)
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

// --- Questions, answers, proposals ---

func TestSQLite_QuestionAndAnswer(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	q := &model.Question{Text: "how much did I spend on food?", UserID: "alice"}
	require.NoError(t, st.CreateQuestion(ctx, q))
	require.NotEmpty(t, q.ID)

	a := &model.Answer{
		QuestionID:      q.ID,
		Text:            "You spent $84.20.",
		FactInstanceIDs: []string{"inst-1"},
	}
	require.NoError(t, st.CreateAnswer(ctx, a))
	require.NotEmpty(t, a.ID)
}

func TestSQLite_ProposalLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := &model.TaxonomyProposal{
		Question:       "what is my runway?",
		ProposedFactID: "finance.runway",
		ProposedLogic:  `deps["finance.balance"] / deps["finance.burn_rate"]`,
	}
	require.NoError(t, st.CreateProposal(ctx, p))
	assert.Equal(t, model.ProposalPending, p.Status)

	pending, err := st.ListProposals(ctx, model.ProposalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, st.UpdateProposalStatus(ctx, p.ID, model.ProposalApproved))
	got, err := st.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, got.Status)

	pending, err = st.ListProposals(ctx, model.ProposalPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// --- Ledger feeds ---

func TestSQLite_LedgerRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateAccount(ctx, model.Account{ID: "acc-1", Name: "Checking", UserID: "alice"}))
	require.NoError(t, st.CreateAccount(ctx, model.Account{ID: "acc-2", Name: "Card", UserID: "bob"}))

	n, err := st.InsertBankTransactions(ctx, []model.BankTransaction{
		{AccountID: "acc-1", PostingDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Description: "PAYROLL", Amount: decimal.NewFromFloat(2500), Type: "credit", Balance: decimal.NewFromFloat(3100.50)},
		{AccountID: "acc-1", PostingDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), Description: "RENT", Amount: decimal.NewFromFloat(-1800), Type: "debit", Balance: decimal.NewFromFloat(1300.50)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.InsertCardCharges(ctx, []model.CardCharge{
		{AccountID: "acc-2", TransactionDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), PostDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), Description: "GROCERY MART", Category: "Groceries", Type: "sale", Amount: decimal.NewFromFloat(-84.20)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	txs, err := st.ListBankTransactions(ctx, ledger.Filter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromFloat(2500)))

	txs, err = st.ListBankTransactions(ctx, ledger.Filter{
		UserID: "alice",
		Start:  time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "RENT", txs[0].Description)

	charges, err := st.ListCardCharges(ctx, ledger.Filter{Category: "Groceries"})
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.True(t, charges[0].Amount.Equal(decimal.NewFromFloat(-84.20)))

	charges, err = st.ListCardCharges(ctx, ledger.Filter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, charges)
}
