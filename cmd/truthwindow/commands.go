// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/truthwindow/cmd/truthwindow/config"
	"github.com/AleutianAI/truthwindow/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string

	// Populated by PersistentPreRunE before any subcommand runs.
	cfg    config.TruthwindowConfig
	logger *logging.Logger

	// search / cleanup / import flags
	searchLimit   int
	cleanupDays   int
	cleanupDryRun bool
	importDryRun  bool

	verifyMinConfidence string

	// keys flags
	keyCount  int
	keyLength int
	keyPrefix string

	rootCmd = &cobra.Command{
		Use:   "truthwindow",
		Short: "Conversational access to the Truth Commission archive",
		Long: `truthwindow answers questions about the Colombian Truth Commission
archive with cited passages, and keeps each conversation as a chat session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check configuration and reachability of the store, Weaviate, and the embedding API",
		Args:  cobra.NoArgs,
		RunE:  runValidate, // Defined in cmd_validate.go
	}

	// --- Configuration ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default truthwindow.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit, // Defined in cmd_config.go
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow, // Defined in cmd_config.go
	}

	// --- Session store administration ---
	adminCmd = &cobra.Command{
		Use:   "admin",
		Short: "Administer the session store (the server should be stopped for Badger)",
	}
	adminStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show chat and message counts",
		Args:  cobra.NoArgs,
		RunE:  runAdminStats, // Defined in cmd_admin.go
	}
	adminSearchCmd = &cobra.Command{
		Use:   "search [text]",
		Short: "Find messages containing text",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminSearch,
	}
	adminExportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Write every chat to a JSON archive (stdout when file is omitted or -)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAdminExport,
	}
	adminImportCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Load chats from a JSON archive, replacing chats with the same id",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminImport,
	}
	adminCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete chats not updated within the retention window",
		Args:  cobra.NoArgs,
		RunE:  runAdminCleanup,
	}
	adminBackupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Upload an archive of every chat to Cloud Storage",
		Args:  cobra.NoArgs,
		RunE:  runAdminBackup,
	}
	adminVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check store integrity and scan stored answers for sensitive data",
		Args:  cobra.NoArgs,
		RunE:  runAdminVerify,
	}

	// --- Credentials ---
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keysGenerateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Print new random API keys",
		Args:  cobra.NoArgs,
		RunE:  runKeysGenerate, // Defined in cmd_keys.go
	}
)

func init() {
	rootCmd.PersistentPreRunE = loadRuntime
	rootCmd.PersistentPostRunE = closeRuntime

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $TRUTHWINDOW_CONFIG or ./truthwindow.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	adminSearchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of hits")
	adminCleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention window in days (default server.retention_days)")
	adminCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report the cutoff without deleting")
	adminImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "read and validate the archive without writing")
	adminVerifyCmd.Flags().StringVar(&verifyMinConfidence, "min-confidence", "medium", "lowest pattern confidence that counts as a finding")

	keysGenerateCmd.Flags().IntVarP(&keyCount, "count", "n", 1, "number of keys")
	keysGenerateCmd.Flags().IntVar(&keyLength, "length", 32, "random bytes per key (minimum 16)")
	keysGenerateCmd.Flags().StringVar(&keyPrefix, "prefix", "tw_", "prefix for every key")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	adminCmd.AddCommand(adminStatsCmd, adminSearchCmd, adminExportCmd, adminImportCmd,
		adminCleanupCmd, adminBackupCmd, adminVerifyCmd)
	keysCmd.AddCommand(keysGenerateCmd)
	rootCmd.AddCommand(serveCmd, validateCmd, configCmd, adminCmd, keysCmd)
}

// loadRuntime reads the configuration and installs the process logger.
func loadRuntime(cmd *cobra.Command, _ []string) error {
	// config init must work before any file exists.
	if cmd == configInitCmd || cmd == keysGenerateCmd {
		logger = logging.New(logging.Config{Level: logging.LevelWarn, Service: "truthwindow"})
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	format := logging.Format(cfg.Logging.Format)
	switch format {
	case logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}

	logger = logging.New(logging.Config{
		Level:   level,
		Format:  format,
		Service: "truthwindow",
		LogDir:  cfg.Logging.Dir,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(logger.Slog())
	return nil
}

func closeRuntime(_ *cobra.Command, _ []string) error {
	if logger == nil {
		return nil
	}
	return logger.Close()
}
