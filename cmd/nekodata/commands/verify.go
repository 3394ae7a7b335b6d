// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/pixelneko/nekofs/cmd/nekodata/cli"
	"github.com/pixelneko/nekofs/lib/nekodata"
)

type verifyParams struct {
	configParams
}

func verifyCommand() *cli.Command {
	var params verifyParams

	return &cli.Command{
		Name:    "verify",
		Summary: "Check the stored digests of an archive",
		Description: `Recompute the SHA-256 digest of each entry's stored bytes and
compare it with the directory.

Every entry is checked, or only the named entries when any are given.
Each mismatch is printed; the command exits with status 1 if there
was at least one. I/O and format errors are reported as errors.`,
		Usage: "nekodata verify [flags] <archive> [entry...]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("verify", &params)
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, -1, "nekodata verify [flags] <archive> [entry...]"); err != nil {
				return err
			}
			_, logger, err := params.load()
			if err != nil {
				return err
			}
			reader, err := openArchive(args[0], logger)
			if err != nil {
				return err
			}
			defer reader.Close()
			return runVerify(reader, args[1:], os.Stdout)
		},
	}
}

// runVerify prints one line per mismatched entry. Mismatches are
// reported through the exit code, not as an error message.
func runVerify(reader *nekodata.Reader, names []string, w io.Writer) error {
	err := reader.Verify(names...)
	var verifyErr *nekodata.VerifyError
	switch {
	case err == nil:
		checked := len(names)
		if checked == 0 {
			checked = len(reader.Entries())
		}
		fmt.Fprintf(w, "ok: %d entries verified\n", checked)
		return nil
	case errors.As(err, &verifyErr):
		for _, mismatch := range verifyErr.Mismatches {
			fmt.Fprintf(w, "MISMATCH %s\n  expected %s\n  actual   %s\n",
				mismatch.Name, mismatch.Expected, mismatch.Actual)
		}
		return &cli.ExitError{Code: 1}
	default:
		return err
	}
}
