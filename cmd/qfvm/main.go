// Copyright (C) 2025, Quadfund Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quadfund/qfvm/cmd/qfvm/demo"
)

func main() {
	root := &cobra.Command{
		Use:   "qfvm",
		Short: "Quadratic-funding matching-pool tooling",
	}
	root.AddCommand(demo.Command())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
