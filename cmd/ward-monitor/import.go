package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/config"
	"github.com/sweeney/ward-monitor/internal/importer"
	"github.com/sweeney/ward-monitor/internal/store"
)

func newImportCmd(load loader) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "import [log.json]",
		Short: "Replay a file-backed history log into the SQLite store",
		Long: "Reads a JSON array of readings (default: the history log under storage.dir)\n" +
			"and inserts it into storage.db_path. Records without a usable timestamp are\n" +
			"written to import.error_log and skipped.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			src := filepath.Join(cfg.Storage.Dir, store.LogFile)
			if len(args) == 1 {
				src = args[0]
			}
			if cmd.Flags().Changed("db") {
				cfg.Storage.DBPath = dbPath
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rep, err := runImport(ctx, cfg, src, logger)
			if rep.BatchID != "" {
				// Rows flushed before a failure stay committed.
				printImportSummary(cmd.OutOrStdout(), src, cfg.Storage.DBPath, rep)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "destination database, overrides storage.db_path")
	return cmd
}

func runImport(ctx context.Context, cfg *config.Config, src string, logger *zap.Logger) (importer.Report, error) {
	dst, err := store.NewSQLStore(cfg.Storage.DBPath)
	if err != nil {
		return importer.Report{}, fmt.Errorf("open destination: %w", err)
	}
	defer dst.Close()

	im := importer.New(dst, cfg.Import.ErrorLog, logger.Named("import"),
		importer.WithBatchSize(cfg.Import.BatchSize))
	rep, err := im.ImportFile(ctx, src)
	if err != nil {
		return rep, fmt.Errorf("import %s: %w", src, err)
	}
	return rep, nil
}

func printImportSummary(w io.Writer, src, dst string, rep importer.Report) {
	fmt.Fprintf(w, "%s %s -> %s\n", color.CyanString("import"), src, dst)
	fmt.Fprintf(w, "  batch:       %s\n", rep.BatchID)
	fmt.Fprintf(w, "  inserted:    %s\n", color.GreenString("%d", rep.Inserted))
	if rep.Quarantined == 0 {
		fmt.Fprintf(w, "  quarantined: %d\n", rep.Quarantined)
		return
	}
	fmt.Fprintf(w, "  quarantined: %s (see %s)\n", color.YellowString("%d", rep.Quarantined), rep.ErrorLog)
}
