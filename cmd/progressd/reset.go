package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
)

var resetCmd = &cobra.Command{
	Use:   "reset-progress",
	Short: "Delete an account's answers and progress (achievements are kept)",
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().String("account", "", "Account UUID (required)")
	_ = resetCmd.MarkFlagRequired("account")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	raw, _ := cmd.Flags().GetString("account")

	accountID, err := account.ParseID(raw)
	if err != nil {
		return err
	}

	_, log, b, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer b.close()

	stats, err := command.NewProgressReset(b.progress, log).Reset(ctx, accountID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d answers, %d section and %d chapter aggregates\n",
		stats.Answers, stats.Sections, stats.Chapters)
	return nil
}
