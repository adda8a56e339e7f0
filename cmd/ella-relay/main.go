// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ella-relay runs the Ella chat relay server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/ella/pkg/logging"
	"github.com/AleutianAI/ella/services/relay"
	"github.com/AleutianAI/ella/services/relay/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logDir     string
)

var rootCmd = &cobra.Command{
	Use:          "ella-relay",
	Short:        "Streams grounded chat answers from the generation engine to browsers and the ella CLI",
	SilenceUsage: true,
	RunE:         runRelay,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $ELLA_CONFIG)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")
}

func runRelay(cmd *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "ella-relay",
		JSON:    true,
		Writer:  os.Stdout,
		LogDir:  logDir,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	loader, err := config.NewLoader(configPath)
	if err != nil {
		return err
	}
	cfg, err := loader.Config()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := relay.New(ctx, cfg, relay.Options{Loader: loader})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("ella-relay exited", "error", err)
		os.Exit(1)
	}
}
