// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"zombiezen.com/go/log"
	lmb "lmb.256lights.llc/pkg"
	"lmb.256lights.llc/pkg/internal/engine"
)

type evalOptions struct {
	file      string
	state     string
	allowEnv  []string
	allowFS   []string
	timeoutMS int64
}

func newEvalCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "eval [options]",
		Short:                 "evaluate a Lua script once",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(evalOptions)
	c.Flags().StringVar(&opts.file, "file", "", "`path` to script, or - for stdin")
	c.Flags().StringVar(&opts.state, "state", "", "`json` bound read-only as ctx.state")
	c.Flags().StringSliceVar(&opts.allowEnv, "allow-env", nil, "environment variable `name`s readable by the script")
	c.Flags().StringSliceVar(&opts.allowFS, "allow-fs", nil, "filesystem `root`s accessible to the script")
	c.Flags().Int64Var(&opts.timeoutMS, "timeout-ms", 0, "evaluation `budget` in milliseconds")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runEval(cmd.Context(), g, opts)
	}
	return c
}

func runEval(ctx context.Context, g *globalConfig, opts *evalOptions) error {
	source, err := readScript(opts.file)
	if err != nil {
		return err
	}
	state, err := parseStateFlag(opts.state)
	if err != nil {
		return err
	}
	store, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	// The script occupies stdin when read from it; otherwise stdin is the
	// script input.
	var input io.Reader
	if opts.file != "-" {
		input = os.Stdin
	}
	return evalSource(ctx, g, source, input, store, state, opts)
}

// evalSource runs one source with front-matter defaults applied underneath
// explicit flags, then writes the encoded result to stdout.
func evalSource(ctx context.Context, g *globalConfig, source *lmb.Source, input io.Reader, store *lmb.Store, state lmb.Value, opts *evalOptions) error {
	timeout := parseTimeout(opts.timeoutMS)
	if timeout == 0 {
		if t, ok := source.Meta.Timeout(); ok {
			timeout = t
		}
	}
	if state.IsNull() {
		if s, ok := source.Meta.State(); ok {
			state = s
		}
	}
	if metaInput, ok := source.Meta.Input(); ok && input == nil {
		input = strings.NewReader(metaInput)
	}

	eval, err := engine.New(engine.Options{
		Source:         source,
		Input:          input,
		Store:          store,
		State:          state,
		Timeout:        timeout,
		AllowedEnv:     opts.allowEnv,
		AllowedFSRoots: allowFSRoots(opts.allowFS),
	})
	if err != nil {
		return err
	}
	result, err := eval.Invoke(ctx)
	if err != nil {
		return err
	}
	log.Debugf(ctx, "Evaluation finished in %v", result.Duration)
	if err := g.writeResult(os.Stdout, result.Value); err != nil {
		return err
	}
	// Raw strings keep their exact bytes when piped; a newline is only
	// cosmetic on a terminal.
	if g.jsonOut || result.Value.Type() != lmb.TypeString || term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println()
	}
	return nil
}

func allowFSRoots(roots []string) []string {
	if len(roots) == 0 {
		return nil
	}
	return roots
}

func newCheckCommand() *cobra.Command {
	var file string
	c := &cobra.Command{
		Use:                   "check [options]",
		Short:                 "parse and compile a script without running it",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.Flags().StringVar(&file, "file", "", "`path` to script, or - for stdin")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		source, err := readScript(file)
		if err != nil {
			return err
		}
		if err := engine.Check(source); err != nil {
			return &usageError{err: err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	}
	return c
}
