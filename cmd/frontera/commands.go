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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/frontera-labs/frontera/pkg/logging"
	"github.com/frontera-labs/frontera/services/coach"
	"github.com/frontera-labs/frontera/services/coach/config"
	"github.com/frontera-labs/frontera/services/coach/research"
	"github.com/frontera-labs/frontera/services/coach/storage"
)

var (
	configPath  string
	dbDriver    string
	databaseURL string
	catalogYAML bool

	rootCmd = &cobra.Command{
		Use:           "frontera",
		Short:         "Frontera strategy coaching service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes, then exit",
		RunE:  runMigrate,
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Print the research catalog (territories, areas and questions)",
		RunE:  runCatalog,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	migrateCmd.Flags().StringVar(&dbDriver, "driver", "", "database driver: postgres or sqlite (default from config)")
	migrateCmd.Flags().StringVar(&databaseURL, "database-url", "", "database connection string (default from config)")

	catalogCmd.Flags().BoolVar(&catalogYAML, "yaml", false, "print the catalog as YAML")

	rootCmd.AddCommand(serveCmd, migrateCmd, catalogCmd)
}

// setupLogging installs the configured logger as the slog default.
func setupLogging(cfg config.LoggingConfig) *logging.Logger {
	level, ok := logging.ParseLevel(cfg.Level)
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "frontera",
		JSON:    cfg.JSON,
	})
	slog.SetDefault(logger.Slog())
	if !ok {
		slog.Warn("Unknown log level, using info", "level", cfg.Level)
	}
	return logger
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Logging)
	defer logger.Close()

	slog.Info("Starting Frontera",
		"port", cfg.Port,
		"llm_backend", cfg.LLM.Backend,
		"database", cfg.Database.Driver,
		"structured_capture", cfg.StructuredCapture,
	)

	svc, err := coach.New(cfg, nil)
	if err != nil {
		slog.Error("Failed to create service", "error", err)
		return err
	}
	return svc.Run()
}

// runMigrate needs only the database settings, so it does not require the
// LLM or auth secrets that serve validates.
func runMigrate(_ *cobra.Command, _ []string) error {
	logger := setupLogging(config.LoggingConfig{Level: "info"})
	defer logger.Close()

	cfg := config.Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}
	db := cfg.Database
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		db.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		db.URL = v
	}
	if dbDriver != "" {
		db.Driver = dbDriver
	}
	if databaseURL != "" {
		db.URL = databaseURL
	}
	if db.URL == "" {
		return fmt.Errorf("no database URL: pass --database-url or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := storage.Open(ctx, db.Driver, db.URL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("Migration complete", "driver", db.Driver)
	return nil
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	return printCatalog(cmd.OutOrStdout(), catalogYAML)
}

func printCatalog(w io.Writer, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(research.Catalog()); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, t := range research.Catalog() {
		fmt.Fprintf(w, "%s (%s)\n", t.Title, t.ID)
		for _, area := range t.Areas {
			fmt.Fprintf(w, "  %s (%s)\n", area.Title, area.ID)
			for i, q := range area.Questions {
				fmt.Fprintf(w, "    %d. %s\n", i, q)
			}
		}
	}
	return nil
}
