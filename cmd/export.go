package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sabarim/stockharvest/internal/export"
	"github.com/sabarim/stockharvest/internal/historical"
	"github.com/sabarim/stockharvest/internal/storage"
	"github.com/sabarim/stockharvest/internal/symbols"
)

var (
	exportFormat string
	exportDir    string
	fromDate     string
	toDate       string
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted history to Parquet or CSV files",
		RunE:  runExport,
	}
	cmd.Flags().StringVar(&exportFormat, "format", "", "Output format (parquet, csv)")
	cmd.Flags().StringVar(&exportDir, "dir", "", "Output directory")
	cmd.Flags().StringVar(&fromDate, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toDate, "to", "", "End date (YYYY-MM-DD)")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if exportFormat != "" {
		cfg.Export.Format = exportFormat
	}
	if exportDir != "" {
		cfg.Export.Dir = exportDir
	}

	from, err := parseDate(fromDate)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseDate(toDate)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage, logger.WithField("component", "storage"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	exporter, err := export.New(cfg.Export, store, logger.WithField("component", "export"))
	if err != nil {
		return err
	}

	var list []string
	switch {
	case symbolsStr != "":
		list = symbols.ParseList(symbolsStr)
	case symbolFile != "":
		if list, err = symbols.LoadFile(symbolFile); err != nil {
			return err
		}
	}

	res, err := exporter.Export(ctx, list, from, to)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d records of %d symbols into %d files under %s\n",
		res.Records, res.Symbols, len(res.Files), cfg.Export.Dir)
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(historical.DateLayout, s)
}
