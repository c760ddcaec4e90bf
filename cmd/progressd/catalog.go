package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the local chapter and section catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Upsert chapters and sections from a JSON snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogImport,
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)
}

func readSnapshot(path string) (catalog.Snapshot, error) {
	var snap catalog.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse %s: %w", path, err)
	}
	return snap, snap.Validate()
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	snap, err := readSnapshot(args[0])
	if err != nil {
		return err
	}

	_, log, b, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer b.close()

	if err := b.importer.Import(ctx, snap); err != nil {
		return err
	}
	log.Info("catalog imported",
		logger.Int("chapters", len(snap.Chapters)),
		logger.Int("sections", len(snap.Sections)))
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d chapters, %d sections\n", len(snap.Chapters), len(snap.Sections))
	return nil
}
