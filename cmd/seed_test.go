package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const seedYAML = `
facts:
  - id: spending.total_by_category
    description: Total spend per card category.
    kind: computed
    data_type: dict
    version:
      logic_type: expression
      logic: 'groupSum(deps["ledger.all_transactions"], "category", "amount")'
      requires: [ledger.all_transactions]
      output_template: ""
      test_cases:
        - context: {user: demo}
          expected: {"Groceries": -84.2}
    recognizer:
      regex_patterns:
        - 'how much did i spend on (?P<category>\w+)'
      keywords: [spend, category]
      example_questions:
        - how much did I spend on groceries?
ledger:
  accounts:
    - id: acc-1
      name: Checking
      user_id: demo
  bank_transactions:
    - account: acc-1
      date: 2026-01-05
      description: PAYROLL
      amount: "2500.00"
      type: ACH_CREDIT
      balance: "3100.00"
  card_charges:
    - account: acc-1
      date: 2026-01-07
      description: WHOLEFDS
      category: Groceries
      type: Sale
      amount: "-84.20"
`

func TestSeedDocParse(t *testing.T) {
	var doc seedDoc
	require.NoError(t, yaml.Unmarshal([]byte(seedYAML), &doc))

	require.Len(t, doc.Facts, 1)
	f := doc.Facts[0]
	assert.Equal(t, "spending.total_by_category", f.ID)
	assert.Equal(t, "computed", f.Kind)
	assert.Equal(t, "dict", f.DataType)
	assert.Equal(t, "expression", f.Version.LogicType)
	assert.Equal(t, []string{"ledger.all_transactions"}, f.Version.Requires)
	require.Len(t, f.Version.TestCases, 1)
	assert.Equal(t, "demo", f.Version.TestCases[0].Context["user"])
	require.Len(t, f.Recognizer.RegexPatterns, 1)

	require.Len(t, doc.Ledger.Accounts, 1)
	require.Len(t, doc.Ledger.BankTransactions, 1)
	require.Len(t, doc.Ledger.CardCharges, 1)
}

func TestSeedBankRow(t *testing.T) {
	tx, err := seedBankRow("acc-1", "2026-01-05", "PAYROLL", "2500.00", "ACH_CREDIT", "3100.00")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", tx.AccountID)
	assert.Equal(t, "2026-01-05", tx.PostingDate.Format("2006-01-02"))
	assert.Equal(t, "2500", tx.Amount.String())
	assert.NotEmpty(t, tx.ID)

	_, err = seedBankRow("acc-1", "Jan 5", "PAYROLL", "2500.00", "ACH_CREDIT", "3100.00")
	require.Error(t, err)

	_, err = seedBankRow("acc-1", "2026-01-05", "PAYROLL", "lots", "ACH_CREDIT", "3100.00")
	require.Error(t, err)
}

func TestSeedCardRow(t *testing.T) {
	c, err := seedCardRow("acc-1", "2026-01-07", "", "WHOLEFDS", "Groceries", "Sale", "-84.20")
	require.NoError(t, err)
	assert.Equal(t, c.TransactionDate, c.PostDate)
	assert.Equal(t, "-84.2", c.Amount.String())

	c, err = seedCardRow("acc-1", "2026-01-07", "2026-01-08", "WHOLEFDS", "Groceries", "Sale", "-84.20")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-08", c.PostDate.Format("2006-01-02"))
}
