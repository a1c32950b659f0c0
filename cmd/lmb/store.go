// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStoreCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:           "store",
		Short:         "inspect and maintain the persistent store",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	c.AddCommand(
		newStoreListCommand(g),
		newStoreGetCommand(g),
		newStoreDeleteCommand(g),
		newStoreMigrateCommand(g),
	)
	return c
}

func newStoreListCommand(g *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:           "ls",
		Short:         "list stored values",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			records, err := store.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tUPDATED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", rec.Name, rec.TypeHint, rec.Size, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newStoreGetCommand(g *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:           "get NAME",
		Short:         "print a stored value as JSON",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			v, found, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				return usagef("no value named %q", args[0])
			}
			data, err := v.AppendJSON(nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newStoreDeleteCommand(g *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:           "delete NAME",
		Short:         "delete a stored value",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			existed, err := store.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if !existed {
				return usagef("no value named %q", args[0])
			}
			return nil
		},
	}
}

func newStoreMigrateCommand(g *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "bring the store schema up to date",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			// openStore already runs migrations; run again so backend
			// errors still surface through this command.
			return store.Migrate(ctx)
		},
	}
}
