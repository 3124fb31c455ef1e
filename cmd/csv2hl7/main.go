// Command csv2hl7 converts delimited patient extracts into HL7 v2 ADT
// message files. It provides commands to run a conversion and to manage the
// configuration file.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpas/csv2hl7/internal/config"
	"github.com/openpas/csv2hl7/internal/pipeline"
	"github.com/openpas/csv2hl7/internal/telemetry"
)

var version = "1.0.0"

const defaultConfigPath = "config.json"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "csv2hl7",
		Short:   "csv2hl7 — CSV/PAS extract to HL7 v2 ADT converter",
		Long:    "Convert comma- or pipe-delimited patient extract files into HL7 v2 ADT messages, one file per message.",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")

	root.AddCommand(
		newRunCmd(&configPath),
		newConfigCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var inputDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Convert every extract file in the input folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if issues := cfg.Validate(); len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintf(os.Stderr, "config: %s\n", issue)
				}
				return fmt.Errorf("configuration invalid: %d issue(s)", len(issues))
			}
			if inputDir == "" {
				inputDir = cfg.Directories.InputFolder
			}

			logger, closeLog, err := setupLogging(cfg.Logging)
			if err != nil {
				return err
			}
			defer closeLog()
			slog.SetDefault(logger)

			events := telemetry.NewAggregator(telemetry.SlogSink{Logger: logger})

			p, err := pipeline.New(cfg, events, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("conversion run starting",
				slog.String("run_id", p.RunID()),
				slog.String("input", inputDir),
				slog.String("output", cfg.Directories.OutputFolder),
				slog.Int("workers", cfg.Workers()),
			)

			summary, runErr := p.Run(ctx, inputDir)

			if err := events.Close(); err != nil {
				logger.Warn("telemetry shutdown incomplete", slog.String("error", err.Error()))
			}

			logger.Info("conversion run finished", slog.Any("summary", summary))
			fmt.Printf("total=%d errors=%d initialized=%d saved=%d skipped=%d abandoned_batches=%d elapsed=%s\n",
				summary.Stats.Total(), summary.Stats.Errors(), summary.Stats.Initialized(),
				summary.Stats.Saved(), summary.Stats.Skipped(), len(summary.Abandoned),
				summary.Elapsed.Round(time.Millisecond))
			if !summary.Reconciliation.Consistent {
				for _, issue := range summary.Reconciliation.Issues {
					fmt.Fprintf(os.Stderr, "reconciliation: %s\n", issue)
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&inputDir, "input", "", "input folder (default: directories.input_folder from config)")
	return cmd
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(
		newConfigInitCmd(configPath),
		newConfigShowCmd(configPath),
		newConfigValidateCmd(configPath),
	)
	return cmd
}

func newConfigInitCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", *configPath)
			}
			if err := config.Save(config.Default(), *configPath); err != nil {
				return err
			}
			fmt.Printf("Wrote default configuration to %s\n", *configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	return cmd
}

func newConfigShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "    ")
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and report every issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			issues := cfg.Validate()
			if len(issues) == 0 {
				fmt.Println("configuration OK")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(os.Stderr, "config: %s\n", issue)
			}
			return fmt.Errorf("configuration invalid: %d issue(s)", len(issues))
		},
	}
}

// setupLogging opens the append-only JSON log file for the run and mirrors
// records to stderr so operators get a live view.
func setupLogging(cfg config.Logging) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory %s: %w", cfg.LogDirectory, err)
	}

	name := fmt.Sprintf("csv2hl7_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(cfg.LogDirectory, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(f, os.Stderr), &slog.HandlerOptions{
		Level: cfg.Level(),
	})
	return slog.New(handler), func() { f.Close() }, nil
}
