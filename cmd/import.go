package main

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finq/internal/model"
)

var (
	importCSVPath string
	importAccount string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import ledger feeds from CSV statements",
}

var importBankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Import a bank statement CSV (Details, Posting Date, Description, Amount, Type, Balance)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close()

		rows, err := parseBankCSV(f, importAccount)
		if err != nil {
			return err
		}

		n, err := st.InsertBankTransactions(ctx, rows)
		if err != nil {
			return eris.Wrap(err, "insert bank transactions")
		}

		zap.L().Info("bank import complete",
			zap.Int("parsed", len(rows)),
			zap.Int64("inserted", n),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

var importCardCmd = &cobra.Command{
	Use:   "card",
	Short: "Import a card statement CSV (Transaction Date, Post Date, Description, Category, Type, Amount)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close()

		rows, err := parseCardCSV(f, importAccount)
		if err != nil {
			return err
		}

		n, err := st.InsertCardCharges(ctx, rows)
		if err != nil {
			return eris.Wrap(err, "insert card charges")
		}

		zap.L().Info("card import complete",
			zap.Int("parsed", len(rows)),
			zap.Int64("inserted", n),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

// parseBankCSV reads a checking-account statement export. Row IDs are
// content hashes so re-importing the same statement is a no-op.
func parseBankCSV(r io.Reader, accountID string) ([]model.BankTransaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}
	col := columnIndex(header)
	for _, required := range []string{"posting date", "description", "amount"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("csv missing column %q", required)
		}
	}

	var rows []model.BankTransaction
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv line %d", line)
		}

		date, err := parseStatementDate(field(record, col, "posting date"))
		if err != nil {
			return nil, eris.Wrapf(err, "csv line %d", line)
		}
		amount, err := decimal.NewFromString(field(record, col, "amount"))
		if err != nil {
			return nil, eris.Wrapf(err, "csv line %d: amount", line)
		}
		balance := decimal.Zero
		if raw := field(record, col, "balance"); raw != "" {
			balance, err = decimal.NewFromString(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "csv line %d: balance", line)
			}
		}

		tx := model.BankTransaction{
			AccountID:   accountID,
			PostingDate: date,
			Description: field(record, col, "description"),
			Amount:      amount,
			Type:        field(record, col, "type"),
			Balance:     balance,
		}
		tx.ID = rowID(accountID, date.Format("2006-01-02"), tx.Description, amount.String(), balance.String())
		rows = append(rows, tx)
	}
	return rows, nil
}

func parseCardCSV(r io.Reader, accountID string) ([]model.CardCharge, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}
	col := columnIndex(header)
	for _, required := range []string{"transaction date", "description", "amount"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("csv missing column %q", required)
		}
	}

	var rows []model.CardCharge
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv line %d", line)
		}

		date, err := parseStatementDate(field(record, col, "transaction date"))
		if err != nil {
			return nil, eris.Wrapf(err, "csv line %d", line)
		}
		posted := date
		if raw := field(record, col, "post date"); raw != "" {
			posted, err = parseStatementDate(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "csv line %d: post date", line)
			}
		}
		amount, err := decimal.NewFromString(field(record, col, "amount"))
		if err != nil {
			return nil, eris.Wrapf(err, "csv line %d: amount", line)
		}

		c := model.CardCharge{
			AccountID:       accountID,
			TransactionDate: date,
			PostDate:        posted,
			Description:     field(record, col, "description"),
			Category:        field(record, col, "category"),
			Type:            field(record, col, "type"),
			Amount:          amount,
		}
		c.ID = rowID(accountID, date.Format("2006-01-02"), c.Description, c.Category, amount.String())
		rows = append(rows, c)
	}
	return rows, nil
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return col
}

func field(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseStatementDate accepts the MM/DD/YYYY format bank exports use and
// ISO dates.
func parseStatementDate(raw string) (time.Time, error) {
	for _, layout := range []string{"01/02/2006", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized date %q", raw)
}

func rowID(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:16])
}

func init() {
	importCmd.PersistentFlags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.PersistentFlags().StringVar(&importAccount, "account", "", "account ID the rows belong to (required)")
	_ = importCmd.MarkPersistentFlagRequired("csv")
	_ = importCmd.MarkPersistentFlagRequired("account")
	importCmd.AddCommand(importBankCmd, importCardCmd)
	rootCmd.AddCommand(importCmd)
}
