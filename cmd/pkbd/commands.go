// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/pkbsync/internal/dbactor"
	"github.com/tomtom215/pkbsync/internal/indexer"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

// projectionTables are cleared by rebuild-index. sync_log and
// media_sources are history, not derived from entries.
var projectionTables = []string{"media_links", "structured_data", "notes", "thestream", "entries"}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withCore opens the knowledge base for the duration of fn.
func (c *cli) withCore(ctx context.Context, fn func(*core) error) (err error) {
	app, err := openCore(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(app)
}

// withIndex is withCore with the database actor and the indexer running,
// so changes made by fn reach the projection before it returns.
func (c *cli) withIndex(ctx context.Context, fn func(*core, dbactor.Handle) error) error {
	app, err := openCore(ctx, c.cfg)
	if err != nil {
		return err
	}

	actor := dbactor.New(dbactor.FromConfig(c.cfg.Database))
	ix := indexer.New(app.bus, actor.Handle(), c.cfg.Events.SubscriberBuffer)
	if err := actor.Start(ctx); err != nil {
		ix.Close()
		_ = app.close(ctx)
		return fmt.Errorf("start database: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- ix.Serve(ctx) }()

	fnErr := fn(app, actor.Handle())

	// Closing the bus ends the indexer once it has drained every event.
	closeErr := app.close(ctx)
	ixErr := <-done
	stopErr := actor.Stop(ctx)
	return errors.Join(fnErr, closeErr, ixErr, stopErr)
}

func newCreateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "create <directory>...",
		Short: "Create directories (existing ones are left as they are)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCore(cmd.Context(), func(app *core) error {
				for _, name := range args {
					id, err := app.svc.CreateRepository(cmd.Context(), name)
					if err != nil {
						return err
					}
					addr, err := app.svc.LocalAddress(id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, addr)
				}
				return nil
			})
		},
	}
}

func newNoteCmd(c *cli) *cobra.Command {
	var note pkb.Note
	cmd := &cobra.Command{
		Use:   "note <directory> <path>",
		Short: "Add a note and print its PKB URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withIndex(cmd.Context(), func(app *core, _ dbactor.Handle) error {
				e, err := app.svc.AddChunk(cmd.Context(), pkb.DirectoryID(args[0]), args[1], note)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), pkb.EntryURL(app.svc.URLScheme(), app.svc.Identity(), e).String())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note.Title, "title", "", "note title")
	cmd.Flags().StringVar(&note.Body, "body", "", "note body (markdown)")
	cmd.Flags().StringSliceVar(&note.Tags, "tag", nil, "tag, repeatable")
	return cmd
}

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [directory]",
		Short: "Synchronize one directory, or all of them, with their remotes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withIndex(cmd.Context(), func(app *core, _ dbactor.Handle) error {
				var (
					results []*pkb.MergeResult
					err     error
				)
				if len(args) == 1 {
					var res *pkb.MergeResult
					res, err = app.svc.SyncDirectory(cmd.Context(), pkb.DirectoryID(args[0]))
					if res != nil {
						results = append(results, res)
					}
				} else {
					results, err = app.svc.SyncAll(cmd.Context())
				}
				for _, res := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tpulled=%d pushed=%d remotes=%d failed=%d\n",
						res.Directory, res.Pulled, res.Pushed, len(res.Remotes), len(res.Failed()))
					for _, rr := range res.Failed() {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s: %v\n", rr.Remote, rr.Err)
					}
				}
				return err
			})
		},
	}
}

func newRemoteCmd(c *cli) *cobra.Command {
	remote := &cobra.Command{
		Use:   "remote",
		Short: "Manage the remotes of a directory",
	}

	remote.AddCommand(
		&cobra.Command{
			Use:   "add <directory> <device-alias> <address>",
			Short: "Pair a directory with the same directory on another device",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withCore(cmd.Context(), func(app *core) error {
					b, err := app.svc.AddRemote(cmd.Context(), pkb.DirectoryID(args[0]), args[1], args[2])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), b.Name())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <directory> <remote-name>",
			Short: "Unpair a remote",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withCore(cmd.Context(), func(app *core) error {
					return app.svc.RemoveRemote(cmd.Context(), pkb.DirectoryID(args[0]), args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "list <directory>",
			Short: "List the remotes of a directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withCore(cmd.Context(), func(app *core) error {
					remotes, err := app.svc.ListRemotes(pkb.DirectoryID(args[0]))
					if err != nil {
						return err
					}
					sort.Slice(remotes, func(i, j int) bool { return remotes[i].Name() < remotes[j].Name() })
					for _, b := range remotes {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Name(), b.Address)
					}
					return nil
				})
			},
		},
	)
	return remote
}

func newParseURLCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "parse-url <url>",
		Short: "Parse a PKB URL and print its parts as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := pkb.ParseURLWithScheme(args[0], c.cfg.PKB.URLScheme)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"scheme":    u.Scheme,
				"identity":  u.Identity,
				"directory": string(u.Directory),
				"path":      u.Path,
				"version":   u.Version,
				"anchor":    u.Anchor,
			})
		},
	}
}

func newRebuildIndexCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the relational projection from the repositories",
		Long: `Clear the derived tables and replay every live entry through the
indexer. Sync history and media source records are kept.

Run it while the daemon is stopped; both open the same database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withIndex(cmd.Context(), func(app *core, db dbactor.Handle) error {
				for _, table := range projectionTables {
					n, err := db.Exec(cmd.Context(), "DELETE FROM "+table)
					if err != nil {
						return fmt.Errorf("clear %s: %w", table, err)
					}
					logging.Debug().Str("table", table).Int64("rows", n).Msg("Cleared projection table")
				}

				n, err := app.svc.Replay(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d entries\n", n)
				return nil
			})
		},
	}
}
