// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ella is the terminal client for the Ella chat relay.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/ella/pkg/logging"
	"github.com/AleutianAI/ella/pkg/ux"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	serverURL   string
	personality string
	logLevel    string

	clientConfig ux.ClientConfig
	logger       *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:               "ella",
	Short:             "Chat with Ella from the terminal",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "settings file (default ~/.ella/ella.yaml)")
	flags.StringVar(&serverURL, "server", "", "relay URL, overrides server_url")
	flags.StringVar(&personality, "personality", "", "output level: full, standard, minimal or machine")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(chatCmd, askCmd)
}

// setup routes logs to ~/.ella/logs, loads the settings file and picks the
// output level. Logs never go to the terminal.
func setup(cmd *cobra.Command, _ []string) error {
	logDir := ""
	if dir, err := ux.ConfigDir(); err == nil {
		logDir = filepath.Join(dir, "logs")
	}
	logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "ella",
		Quiet:   true,
		LogDir:  logDir,
	})
	slog.SetDefault(logger.Slog())

	cfg, err := ux.LoadClientConfig(configPath)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
		cfg = cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	clientConfig = cfg

	switch {
	case personality != "":
		ux.SetPersonality(ux.ParsePersonalityLevel(personality))
	case cfg.Personality != "":
		ux.SetPersonality(ux.ParsePersonalityLevel(cfg.Personality))
	default:
		ux.InitPersonality()
	}

	slog.Info("ella started", "server", cfg.ServerURL, "personality", ux.GetPersonality(), "command", cmd.Name())
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
