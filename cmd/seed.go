package main

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finq/internal/model"
)

var seedFile string

// seedDoc is the on-disk taxonomy format: fact definitions with one
// version and recognizer each, plus optional demo ledger rows.
type seedDoc struct {
	Facts  []seedFact `yaml:"facts"`
	Ledger seedLedger `yaml:"ledger"`
}

type seedFact struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description"`
	Kind        string         `yaml:"kind"`
	DataType    string         `yaml:"data_type"`
	Version     seedVersion    `yaml:"version"`
	Recognizer  seedRecognizer `yaml:"recognizer"`
}

type seedVersion struct {
	LogicType        string         `yaml:"logic_type"`
	Logic            string         `yaml:"logic"`
	Requires         []string       `yaml:"requires"`
	Dependencies     []seedDep      `yaml:"dependencies"`
	ParametersSchema string         `yaml:"parameters_schema"`
	OutputTemplate   string         `yaml:"output_template"`
	TestCases        []seedTestCase `yaml:"test_cases"`
}

type seedDep struct {
	ID   string            `yaml:"id"`
	With map[string]string `yaml:"with"`
	When string            `yaml:"when"`
}

type seedTestCase struct {
	Context  map[string]any `yaml:"context"`
	Expected any            `yaml:"expected"`
}

type seedRecognizer struct {
	RegexPatterns    []string `yaml:"regex_patterns"`
	Keywords         []string `yaml:"keywords"`
	ExampleQuestions []string `yaml:"example_questions"`
}

type seedLedger struct {
	Accounts         []seedAccount `yaml:"accounts"`
	BankTransactions []seedBankTx  `yaml:"bank_transactions"`
	CardCharges      []seedCardTx  `yaml:"card_charges"`
}

type seedAccount struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	UserID string `yaml:"user_id"`
}

type seedBankTx struct {
	Account     string `yaml:"account"`
	Date        string `yaml:"date"`
	Description string `yaml:"description"`
	Amount      string `yaml:"amount"`
	Type        string `yaml:"type"`
	Balance     string `yaml:"balance"`
}

type seedCardTx struct {
	Account     string `yaml:"account"`
	Date        string `yaml:"date"`
	PostDate    string `yaml:"post_date"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Type        string `yaml:"type"`
	Amount      string `yaml:"amount"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a fact taxonomy and demo ledger from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(seedFile)
		if err != nil {
			return eris.Wrap(err, "read seed file")
		}
		var doc seedDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return eris.Wrap(err, "parse seed file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var facts, skipped int
		for _, f := range doc.Facts {
			existing, err := st.GetDefinition(ctx, f.ID)
			if err != nil {
				return eris.Wrapf(err, "get definition %s", f.ID)
			}
			if existing != nil {
				skipped++
				continue
			}

			def := &model.FactDefinition{
				ID:          f.ID,
				Description: f.Description,
				Kind:        model.FactKind(f.Kind),
				DataType:    model.FactDataType(f.DataType),
				Active:      true,
			}
			if err := st.CreateDefinition(ctx, def); err != nil {
				return eris.Wrapf(err, "create definition %s", f.ID)
			}

			version := &model.FactDefinitionVersion{
				FactID:           f.ID,
				Version:          1,
				Status:           model.VersionApproved,
				LogicType:        model.LogicType(f.Version.LogicType),
				Logic:            f.Version.Logic,
				Requires:         f.Version.Requires,
				ParametersSchema: f.Version.ParametersSchema,
				OutputTemplate:   f.Version.OutputTemplate,
			}
			for _, dep := range f.Version.Dependencies {
				version.Dependencies = append(version.Dependencies, model.DependencyEdge{
					ToFactID:     dep.ID,
					ParamMapping: dep.With,
					Condition:    dep.When,
				})
			}
			for _, tc := range f.Version.TestCases {
				version.TestCases = append(version.TestCases, model.TestCase{
					Context:  tc.Context,
					Expected: tc.Expected,
				})
			}
			if err := st.CreateVersion(ctx, version); err != nil {
				return eris.Wrapf(err, "create version %s", f.ID)
			}

			rec := model.IntentRecognizer{
				VersionID:        version.ID,
				RegexPatterns:    f.Recognizer.RegexPatterns,
				Keywords:         f.Recognizer.Keywords,
				ExampleQuestions: f.Recognizer.ExampleQuestions,
			}
			if err := st.SaveRecognizer(ctx, rec); err != nil {
				return eris.Wrapf(err, "save recognizer %s", f.ID)
			}
			facts++
		}

		for _, a := range doc.Ledger.Accounts {
			acct := model.Account{ID: a.ID, Name: a.Name, UserID: a.UserID}
			if acct.ID == "" {
				acct.ID = uuid.NewString()
			}
			if err := st.CreateAccount(ctx, acct); err != nil {
				return eris.Wrapf(err, "create account %s", a.Name)
			}
		}

		bank := make([]model.BankTransaction, 0, len(doc.Ledger.BankTransactions))
		for _, r := range doc.Ledger.BankTransactions {
			tx, err := seedBankRow(r.Account, r.Date, r.Description, r.Amount, r.Type, r.Balance)
			if err != nil {
				return err
			}
			bank = append(bank, tx)
		}
		if len(bank) > 0 {
			if _, err := st.InsertBankTransactions(ctx, bank); err != nil {
				return eris.Wrap(err, "insert bank transactions")
			}
		}

		cards := make([]model.CardCharge, 0, len(doc.Ledger.CardCharges))
		for _, r := range doc.Ledger.CardCharges {
			c, err := seedCardRow(r.Account, r.Date, r.PostDate, r.Description, r.Category, r.Type, r.Amount)
			if err != nil {
				return err
			}
			cards = append(cards, c)
		}
		if len(cards) > 0 {
			if _, err := st.InsertCardCharges(ctx, cards); err != nil {
				return eris.Wrap(err, "insert card charges")
			}
		}

		zap.L().Info("seed complete",
			zap.Int("facts", facts),
			zap.Int("skipped", skipped),
			zap.Int("accounts", len(doc.Ledger.Accounts)),
			zap.Int("bank_transactions", len(bank)),
			zap.Int("card_charges", len(cards)),
		)
		return nil
	},
}

func seedBankRow(account, date, description, amount, txType, balance string) (model.BankTransaction, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return model.BankTransaction{}, eris.Wrapf(err, "bank row date %q", date)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return model.BankTransaction{}, eris.Wrapf(err, "bank row amount %q", amount)
	}
	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return model.BankTransaction{}, eris.Wrapf(err, "bank row balance %q", balance)
	}
	return model.BankTransaction{
		ID:          uuid.NewString(),
		AccountID:   account,
		PostingDate: day,
		Description: description,
		Amount:      amt,
		Type:        txType,
		Balance:     bal,
	}, nil
}

func seedCardRow(account, date, postDate, description, category, txType, amount string) (model.CardCharge, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return model.CardCharge{}, eris.Wrapf(err, "card row date %q", date)
	}
	posted := day
	if postDate != "" {
		posted, err = time.Parse("2006-01-02", postDate)
		if err != nil {
			return model.CardCharge{}, eris.Wrapf(err, "card row post date %q", postDate)
		}
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return model.CardCharge{}, eris.Wrapf(err, "card row amount %q", amount)
	}
	return model.CardCharge{
		ID:              uuid.NewString(),
		AccountID:       account,
		TransactionDate: day,
		PostDate:        posted,
		Description:     description,
		Category:        category,
		Type:            txType,
		Amount:          amt,
	}, nil
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "seed.yaml", "path to seed YAML file")
	rootCmd.AddCommand(seedCmd)
}
