// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command shmtable-inspect is a diagnostic tool over the shmtable
// client ABI: an external tool that walks the store's state and prints
// it, rather than part of the store itself. Run "shmtable-inspect
// help" for a list of commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shmtable/shmtable/internal/library"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := library.Config{}
	cmd := &cobra.Command{
		Use:   "shmtable-inspect",
		Short: "inspect a shmtable arena's tables and pool/GC statistics",
	}
	cmd.PersistentFlags().IntVar(&cfg.PageSize, "page-size", 4096, "page size in bytes")
	cmd.PersistentFlags().IntVar(&cfg.PagesPerRegion, "pages-per-region", 64, "pages per region")
	cmd.PersistentFlags().IntVar(&cfg.RegionCount, "region-count", 4, "number of regions")
	cmd.PersistentFlags().BoolVar(&cfg.Opportunistic, "opportunistic-gc", true, "drive the collector opportunistically from mutations")
	cmd.AddCommand(newStatsCmd(&cfg), newReplCmd(&cfg))
	return cmd
}
