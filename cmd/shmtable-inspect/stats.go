// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shmtable/shmtable"
	"github.com/shmtable/shmtable/internal/library"
)

// newStatsCmd builds a throwaway arena, seeds a small demo table tree
// (so there is something to report), drives the collector to
// exhaustion, and prints pool/GC statistics.
func newStatsCmd(cfg *library.Config) *cobra.Command {
	var seed int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "print pool and collector statistics for a freshly seeded arena",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, ps, err := library.Init(*cfg)
			if err != nil {
				return err
			}
			defer lib.Destroy()

			client := shmtable.Open(ps)
			root := client.Root()
			for i := 0; i < seed; i++ {
				child, err := client.New()
				if err != nil {
					return err
				}
				key := shmtable.NewInteger(int64(i))
				if err := client.Add(root, key, child); err != nil {
					return err
				}
				if err := client.Free(child); err != nil {
					return err
				}
			}

			for i := 0; i < 100000; i++ {
				if err := lib.Collector().Run(); err != nil {
					break
				}
			}

			rootPC, rootTotal, err := client.RefCount(root)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "live tables:\t%d\n", lib.Tables().Count())
			fmt.Fprintf(w, "collector round:\t%d\n", lib.Collector().Round())
			fmt.Fprintf(w, "page size:\t%d\n", cfg.PageSize)
			fmt.Fprintf(w, "regions:\t%d x %d pages\n", cfg.RegionCount, cfg.PagesPerRegion)
			fmt.Fprintf(w, "root refcount (this process / total):\t%d / %d\n", rootPC, rootTotal)
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&seed, "seed", 10, "number of demo child tables to create under the root table")
	return cmd
}
