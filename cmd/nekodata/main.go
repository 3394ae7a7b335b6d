// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/pixelneko/nekofs/cmd/nekodata/commands"
)

func main() {
	if err := run(); err != nil {
		// verify and manifest diff print their own findings and return
		// an error carrying only the exit code.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
