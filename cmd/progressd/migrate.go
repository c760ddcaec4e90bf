package main

import (
	"fmt"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/postgres"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Apply pending migrations. --down rolls back the latest one, --status lists them. The sqlite driver migrates on open and supports neither flag.",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("down", false, "Roll back the latest applied migration")
	migrateCmd.Flags().Bool("status", false, "Show migration status")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	down, _ := cmd.Flags().GetBool("down")
	status, _ := cmd.Flags().GetBool("status")
	if down && status {
		return fmt.Errorf("--down and --status are mutually exclusive")
	}

	_, log, b, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer b.close()

	if b.migrator == nil {
		if down || status {
			return fmt.Errorf("--down and --status need DB_DRIVER=postgres")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sqlite schema is up to date")
		return nil
	}

	switch {
	case status:
		migs, err := b.migrator.Status(ctx)
		if err != nil {
			return err
		}
		_, err = lipgloss.Fprintln(cmd.OutOrStdout(), migrationTable(migs))
		return err

	case down:
		if err := b.migrator.Rollback(ctx); err != nil {
			return err
		}
		log.Info("latest migration rolled back")
		return nil

	default:
		n, err := b.migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info("migrations applied", logger.Int("count", n))
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
		return nil
	}
}

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = cellStyle.Bold(true)
)

// migrationTable renders one row per known migration; pending ones show "-".
func migrationTable(migs []postgres.Migration) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("VERSION", "NAME", "APPLIED").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, m := range migs {
		applied := "-"
		if m.IsApplied {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		t.Row(fmt.Sprint(m.Version), m.Name, applied)
	}
	return t.Render()
}
