package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var askUserID string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and print the answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Engine.Ask(ctx, args[0], askUserID, nil)
		if err != nil {
			return eris.Wrap(err, "ask")
		}

		fmt.Println(result.Answer.Text)

		if result.Instance != nil {
			zap.L().Debug("answered from fact",
				zap.String("fact", result.Instance.FactID),
				zap.String("instance", result.Instance.ID),
			)
		}
		if result.Answer.ProposalID != "" {
			fmt.Printf("proposal: %s\n", result.Answer.ProposalID)
		}

		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askUserID, "user", "", "user ID for ledger scoping")
	rootCmd.AddCommand(askCmd)
}
