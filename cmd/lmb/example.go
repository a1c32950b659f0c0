// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	lmb "lmb.256lights.llc/pkg"
	"lmb.256lights.llc/pkg/internal/examples"
)

func newExampleCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:           "example",
		Short:         "work with bundled example scripts",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	c.AddCommand(
		newExampleListCommand(),
		newExampleCatCommand(),
		newExampleEvalCommand(g),
	)
	return c
}

func newExampleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "ls",
		Short:         "list bundled examples",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := examples.All()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			for _, src := range sources {
				desc, _ := src.Meta.Text("description")
				fmt.Fprintf(w, "%s\t%s\n", src.Name, desc)
			}
			return w.Flush()
		},
	}
}

func newExampleCatCommand() *cobra.Command {
	var name string
	c := &cobra.Command{
		Use:           "cat",
		Short:         "print an example script",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	c.Flags().StringVar(&name, "name", "", "example `name`")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		src, ok := examples.Find(name)
		if !ok {
			return usagef("unknown example %q", name)
		}
		fmt.Fprint(cmd.OutOrStdout(), src.Script)
		return nil
	}
	return c
}

func newExampleEvalCommand(g *globalConfig) *cobra.Command {
	var name string
	c := &cobra.Command{
		Use:           "eval",
		Short:         "run a bundled example",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	c.Flags().StringVar(&name, "name", "", "example `name`")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		src, ok := examples.Find(name)
		if !ok {
			return usagef("unknown example %q", name)
		}
		ctx := cmd.Context()
		store, err := g.openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		input, _ := src.Meta.Input()
		return evalSource(ctx, g, src, strings.NewReader(input), store, lmb.Null, new(evalOptions))
	}
	return c
}
