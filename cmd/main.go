package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configFile  string
	logLevel    string
	verbose     bool
	showVersion bool

	symbolsStr           string
	symbolFile           string
	maxConcurrentSymbols int
	maxChunkDays         int
	minRequestInterval   string
	storageDriver        string
	postgresDSN          string
	sqlitePath           string
)

var version = "0.1.0"

func main() {
	// Define the root command
	rootCmd := &cobra.Command{
		Use:   "stockharvest",
		Short: "Incrementally harvest historical per-symbol stock records",
		Long: `stockharvest discovers listed symbols, fetches the trading history each symbol is missing
from the exchange and upserts it into Postgres or SQLite. Without a subcommand it runs once.`,
		SilenceUsage: true,
		RunE:         runRootCommand,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&storageDriver, "storage-driver", "", "Storage driver (sqlite, postgres)")
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database file")
	rootCmd.PersistentFlags().StringVar(&symbolsStr, "symbols", "", "Comma-separated list of symbols (skips discovery)")
	rootCmd.PersistentFlags().StringVar(&symbolFile, "symbol-file", "", "File containing symbols, one per line")

	rootCmd.Flags().IntVar(&maxConcurrentSymbols, "max-concurrent-symbols", 0, "Symbols processed concurrently (max 30)")
	rootCmd.Flags().IntVar(&maxChunkDays, "max-chunk-days", 0, "Maximum days per fetch request")
	rootCmd.Flags().StringVar(&minRequestInterval, "min-request-interval", "", "Minimum spacing between requests for one symbol, e.g. 500ms")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Print version information")

	rootCmd.AddCommand(newScheduleCommand(), newExportCommand(), newConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRootCommand(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("stockharvest version %s\n", version)
		return nil
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.harvest(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
