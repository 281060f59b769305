// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/shmtable/shmtable"
	"github.com/shmtable/shmtable/internal/library"
)

// newReplCmd is the readline-driven interactive shell for walking
// tables key by key.
func newReplCmd(cfg *library.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "interactive shell for walking tables key by key",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, ps, err := library.Init(*cfg)
			if err != nil {
				return err
			}
			defer lib.Destroy()
			client := shmtable.Open(ps)
			cur := client.Root()
			var trail []shmtable.Value

			rl, err := readline.New("shmtable> ")
			if err != nil {
				return err
			}
			defer rl.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "attached to root table; commands: ls, get <key>, set <key> <value>, cd <key>, up, quit")
			for {
				line, err := rl.Readline()
				if err == io.EOF || err == readline.ErrInterrupt {
					return nil
				}
				if err != nil {
					return err
				}
				fields := strings.Fields(line)
				if len(fields) == 0 {
					continue
				}
				switch fields[0] {
				case "quit", "exit":
					return nil
				case "ls":
					err = client.Foreach(cur, shmtable.NilValue, shmtable.SideLeftEQ, func(k, v shmtable.Value) error {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", describeValue(k), describeValue(v))
						return nil
					})
				case "get":
					if len(fields) != 2 {
						fmt.Fprintln(cmd.OutOrStdout(), "usage: get <key>")
						continue
					}
					v, gerr := client.Get(cur, shmtable.NewString(fields[1]))
					if gerr != nil {
						err = gerr
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), describeValue(v))
					}
				case "set":
					if len(fields) != 3 {
						fmt.Fprintln(cmd.OutOrStdout(), "usage: set <key> <value>")
						continue
					}
					err = client.Set(cur, shmtable.NewString(fields[1]), parseValueArg(fields[2]))
				case "cd":
					if len(fields) != 2 {
						fmt.Fprintln(cmd.OutOrStdout(), "usage: cd <key>")
						continue
					}
					v, gerr := client.Get(cur, shmtable.NewString(fields[1]))
					if gerr != nil {
						err = gerr
					} else if _, terr := v.AsTable(); terr != nil {
						fmt.Fprintln(cmd.OutOrStdout(), "not a table")
					} else {
						trail = append(trail, cur)
						cur = v
					}
				case "up":
					if len(trail) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "already at the root table")
						continue
					}
					cur = trail[len(trail)-1]
					trail = trail[:len(trail)-1]
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "unknown command %q\n", fields[0])
				}
				if err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), err)
					err = nil
				}
			}
		},
	}
}

// parseValueArg interprets a REPL argument as an integer if it parses
// as one, otherwise as a string; good enough for a diagnostic shell.
func parseValueArg(s string) shmtable.Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return shmtable.NewInteger(n)
	}
	return shmtable.NewString(s)
}

func describeValue(v shmtable.Value) string {
	switch v.Tag {
	case shmtable.NilValue.Tag:
		return "nil"
	default:
	}
	if s, err := v.AsString(); err == nil {
		return s
	}
	if n, err := v.AsInteger(); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := v.AsNumber(); err == nil {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if b, err := v.AsBoolean(); err == nil {
		return strconv.FormatBool(b)
	}
	if _, err := v.AsTable(); err == nil {
		return "<table>"
	}
	return fmt.Sprintf("<%s>", v.Tag)
}
