// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tailscale/hujson"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
	lmb "lmb.256lights.llc/pkg"
)

type globalConfig struct {
	storePath string
	noStore   bool
	jsonOut   bool
}

func main() {
	rootCommand := &cobra.Command{
		Use:           "lmb",
		Short:         "lmb is a Lua function runner",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := &globalConfig{
		storePath: filepath.Join(stateDir(), "lmb", "store.db"),
	}
	rootCommand.PersistentFlags().StringVar(&g.storePath, "store", g.storePath, "`path` to store database file")
	rootCommand.PersistentFlags().BoolVar(&g.noStore, "no-store", false, "run with an in-memory store")
	rootCommand.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "print results as JSON")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		return nil
	}

	rootCommand.AddCommand(
		newEvalCommand(g),
		newServeCommand(g),
		newCheckCommand(),
		newExampleCommand(g),
		newStoreCommand(g),
		newVersionCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(exitCode(err))
	}
}

// Exit codes: 0 success, 1 user script error, 2 invocation or configuration
// error, 3 timeout. Script failures reach here as tagged errors; anything
// untagged is the tool's own fault and counts as invocation error.
func exitCode(err error) int {
	var uerr *usageError
	if errors.As(err, &uerr) {
		return 2
	}
	var lerr *lmb.Error
	if !errors.As(err, &lerr) {
		return 2
	}
	if lerr.Kind == lmb.KindTimeout {
		return 3
	}
	return 1
}

// usageError marks invocation and configuration problems for exit code 2.
type usageError struct {
	err error
}

func usagef(format string, args ...any) *usageError {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "lmb: ", log.StdFlags, nil),
		})
	})
}

// readScript loads a script from path, where "-" means standard input.
func readScript(path string) (*lmb.Source, error) {
	if path == "" {
		return nil, usagef("missing --file")
	}
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, &usageError{err: err}
		}
		return lmb.ParseSource("(stdin)", string(data)), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &usageError{err: err}
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return lmb.ParseSource(name, string(data)), nil
}

// parseStateFlag decodes the --state value, accepting HuJSON so flags can
// carry comments and trailing commas.
func parseStateFlag(raw string) (lmb.Value, error) {
	if raw == "" {
		return lmb.Null, nil
	}
	data, err := hujson.Standardize([]byte(raw))
	if err != nil {
		return lmb.Null, usagef("parse --state: %v", err)
	}
	v, err := lmb.FromJSON(data)
	if err != nil {
		return lmb.Null, usagef("parse --state: %v", err)
	}
	return v, nil
}

// openStore opens the configured store, creating parent directories for
// the default location.
func (g *globalConfig) openStore(ctx context.Context) (*lmb.Store, error) {
	if g.noStore {
		return lmb.OpenMemoryStore(ctx)
	}
	if err := os.MkdirAll(filepath.Dir(g.storePath), 0o755); err != nil {
		return nil, &usageError{err: err}
	}
	return lmb.OpenStore(ctx, g.storePath, nil)
}

// writeResult renders an evaluation result the way the tool reports it:
// raw strings unquoted, everything else as JSON; --json forces JSON.
func (g *globalConfig) writeResult(w io.Writer, v lmb.Value) error {
	if !g.jsonOut && v.Type() == lmb.TypeString {
		_, err := io.WriteString(w, v.Text())
		return err
	}
	data, err := v.AppendJSON(nil)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "lmb", lmb.Version)
			return err
		},
	}
}

func parseTimeout(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
