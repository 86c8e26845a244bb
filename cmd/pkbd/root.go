// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/pkbsync/internal/config"
	"github.com/tomtom215/pkbsync/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	cfg        *config.Config
}

// newRootCmd builds the command tree. Each call returns an independent tree
// so tests can execute commands without leaking flag state.
func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "pkbd",
		Short: "personal knowledge base synchronization daemon",
		Long: fmt.Sprintf(`pkbd (%s)

Keeps directories of notes, media links and structured data in sync across
devices, indexes every change into a relational projection, and ingests
media from configured sources.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"config file (default: $"+config.ConfigPathEnvVar+" or the standard locations)")

	root.AddCommand(
		newServeCmd(c),
		newCreateCmd(c),
		newNoteCmd(c),
		newSyncCmd(c),
		newRemoteCmd(c),
		newParseURLCmd(c),
		newRebuildIndexCmd(c),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and initializes logging from it.
func (c *cli) load() error {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	c.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pkbd",
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pkbd %s\n", Version)
		},
	}
}
