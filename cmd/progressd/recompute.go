package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rebuild progress aggregates from recorded answers",
	RunE:  runRecompute,
}

func init() {
	recomputeCmd.Flags().String("account", "", "Account UUID (required)")
	recomputeCmd.Flags().Int("chapter", 0, "Only this chapter (default: every chapter)")
	_ = recomputeCmd.MarkFlagRequired("account")
}

func runRecompute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	raw, _ := cmd.Flags().GetString("account")
	chapterID, _ := cmd.Flags().GetInt("chapter")

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

	aggregator := command.NewProgressAggregator(b.progress, b.catalog, log)

	var chapters []progress.ChapterProgress
	if chapterID > 0 {
		res, err := aggregator.RecomputeChapter(ctx, accountID, chapterID)
		if err != nil {
			return err
		}
		chapters = append(chapters, res.Chapter)
	} else {
		chapters, err = aggregator.RecomputeAll(ctx, accountID)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, ch := range chapters {
		fmt.Fprintf(out, "chapter %d: average %d%%, %d/%d sections completed, completed=%t\n",
			ch.ChapterID, ch.AverageAccuracyPercent, ch.SectionsCompleted, ch.SectionsTotal, ch.Completed)
	}
	return nil
}
