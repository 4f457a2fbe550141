package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finq/internal/config"
	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/store"
)

func TestValuesMatch(t *testing.T) {
	assert.True(t, valuesMatch(42, 42.0))
	assert.True(t, valuesMatch(42.0, int64(42)))
	assert.True(t, valuesMatch("food", "food"))
	assert.True(t, valuesMatch(map[string]any{"a": 1}, map[string]any{"a": 1.0}))
	assert.False(t, valuesMatch(42, 41.0))
	assert.False(t, valuesMatch("food", "rent"))
}

func TestRecognizerFor(t *testing.T) {
	version := &model.FactDefinitionVersion{ID: "v-1", FactID: "spending.total_by_category"}
	p := &model.TaxonomyProposal{Question: "how much did I spend on food?"}

	rec := recognizerFor(version, p)
	assert.Equal(t, "v-1", rec.VersionID)
	assert.Equal(t, []string{"spending", "total", "by", "category"}, rec.Keywords)
	assert.Equal(t, []string{"how much did I spend on food?"}, rec.ExampleQuestions)
}

func setupApprovalStore(t *testing.T, p *model.TaxonomyProposal) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "approve.db")
	cfg = &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = dbPath
	cfg.Sandbox.TimeoutSecs = 5
	cfg.Router.Threshold = 60

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.CreateProposal(context.Background(), p))
	require.NoError(t, st.Close())

	return dbPath
}

func TestFactsApprove_PromotesPassingProposal(t *testing.T) {
	p := &model.TaxonomyProposal{
		Question:       "what is six times seven?",
		ProposedFactID: "demo.answer",
		ProposedLogic:  "6 * 7",
		TestCases:      []model.TestCase{{Context: map[string]any{}, Expected: 42}},
		Status:         model.ProposalPending,
	}
	dbPath := setupApprovalStore(t, p)

	factsApproveCmd.SetContext(context.Background())
	require.NoError(t, factsApproveCmd.RunE(factsApproveCmd, []string{p.ID}))

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close()

	version, err := st.GetLatestApprovedVersion(context.Background(), "demo.answer")
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, model.LogicExpression, version.LogicType)
	assert.Equal(t, "6 * 7", version.Logic)

	entries, err := st.ListRecognizers(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, version.ID, entries[0].Version.ID)

	got, err := st.GetProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, got.Status)
}

func TestFactsApprove_FailingTestLeavesDraft(t *testing.T) {
	p := &model.TaxonomyProposal{
		Question:       "what is six times seven?",
		ProposedFactID: "demo.answer",
		ProposedLogic:  "6 * 7",
		TestCases:      []model.TestCase{{Context: map[string]any{}, Expected: 41}},
		Status:         model.ProposalPending,
	}
	dbPath := setupApprovalStore(t, p)

	factsApproveCmd.SetContext(context.Background())
	err := factsApproveCmd.RunE(factsApproveCmd, []string{p.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 41")

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close()

	version, err := st.GetLatestApprovedVersion(context.Background(), "demo.answer")
	require.NoError(t, err)
	assert.Nil(t, version)

	got, err := st.GetProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, got.Status)
}

func TestFactsApprove_NoTestCasesRefused(t *testing.T) {
	p := &model.TaxonomyProposal{
		Question:       "what is six times seven?",
		ProposedFactID: "demo.answer",
		ProposedLogic:  "6 * 7",
		Status:         model.ProposalPending,
	}
	setupApprovalStore(t, p)

	factsApproveCmd.SetContext(context.Background())
	err := factsApproveCmd.RunE(factsApproveCmd, []string{p.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no test cases")
}
