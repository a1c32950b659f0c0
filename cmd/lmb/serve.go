// Copyright 2026 The lmb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"net"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"
	"lmb.256lights.llc/pkg/internal/httpserve"
)

type serveOptions struct {
	file      string
	bind      string
	allowEnv  []string
	allowFS   []string
	timeoutMS int64
}

func newServeCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "serve [options]",
		Short:                 "run a script as an HTTP request handler",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &serveOptions{
		bind: "127.0.0.1:3000",
	}
	c.Flags().StringVar(&opts.file, "file", "", "`path` to handler script, or - for stdin")
	c.Flags().StringVar(&opts.bind, "bind", opts.bind, "`host:port` to listen on")
	c.Flags().StringSliceVar(&opts.allowEnv, "allow-env", nil, "environment variable `name`s readable by the script")
	c.Flags().StringSliceVar(&opts.allowFS, "allow-fs", nil, "filesystem `root`s accessible to the script")
	c.Flags().Int64Var(&opts.timeoutMS, "timeout-ms", 0, "per-request evaluation `budget` in milliseconds")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), g, opts)
	}
	return c
}

func runServe(ctx context.Context, g *globalConfig, opts *serveOptions) error {
	source, err := readScript(opts.file)
	if err != nil {
		return err
	}
	store, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	timeout := parseTimeout(opts.timeoutMS)
	if timeout == 0 {
		if t, ok := source.Meta.Timeout(); ok {
			timeout = t
		}
	}
	handler := httpserve.NewHandler(&httpserve.Options{
		Source:         source,
		Store:          store,
		Timeout:        timeout,
		AllowedEnv:     opts.allowEnv,
		AllowedFSRoots: allowFSRoots(opts.allowFS),
	})

	l, err := net.Listen("tcp", opts.bind)
	if err != nil {
		return &usageError{err: err}
	}
	log.Infof(ctx, "Serving %s on %v", source.Name, l.Addr())
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debugf(ctx, "systemd notify: %v", err)
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return httpserve.Serve(grpCtx, l, handler)
	})
	err = grp.Wait()
	if ctx.Err() != nil {
		log.Infof(context.Background(), "Shutting down")
		return nil
	}
	return err
}
