// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string
	root := &Command{
		Name: "nekodata",
		Subcommands: []*Command{
			{Name: "pack", Run: func([]string) error { called = "pack"; return nil }},
			{Name: "list", Run: func([]string) error { called = "list"; return nil }},
		},
	}
	if err := root.Execute([]string{"list"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "list" {
		t.Errorf("dispatched to %q, want %q", called, "list")
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var level int
	var receivedArgs []string
	command := &Command{
		Name: "pack",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
			flagSet.IntVar(&level, "level", 9, "compression level")
			return flagSet
		},
		Run: func(args []string) error {
			receivedArgs = args
			return nil
		},
	}
	if err := command.Execute([]string{"--level", "3", "out.nekodata"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if level != 3 {
		t.Errorf("level = %d, want 3", level)
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "out.nekodata" {
		t.Errorf("args = %v, want [out.nekodata]", receivedArgs)
	}
}

func TestCommand_Execute_UnknownCommandSuggests(t *testing.T) {
	root := &Command{
		Name: "nekodata",
		Subcommands: []*Command{
			{Name: "verify", Run: func([]string) error { return nil }},
			{Name: "unpack", Run: func([]string) error { return nil }},
		},
	}
	err := root.Execute([]string{"verfy"})
	if err == nil {
		t.Fatal("Execute() succeeded for an unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "verify"`) {
		t.Errorf("error = %q, want a suggestion for verify", err)
	}
}

func TestCommand_Execute_UnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "pack",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
			flagSet.Int("workers", 0, "worker count")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}
	err := command.Execute([]string{"--wrkers", "4"})
	if err == nil {
		t.Fatal("Execute() succeeded for an unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --workers?") {
		t.Errorf("error = %q, want a suggestion for --workers", err)
	}
}

func TestCommand_Execute_HelpPrintsUsage(t *testing.T) {
	var output bytes.Buffer
	root := &Command{
		Name:    "nekodata",
		Summary: "Multi-volume archive tool",
		Output:  &output,
		Subcommands: []*Command{
			{Name: "pack", Summary: "Create an archive"},
		},
		Examples: []Example{{Description: "Pack a directory", Command: "nekodata pack --dir assets game"}},
	}
	if err := root.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute(--help) error: %v", err)
	}
	help := output.String()
	for _, want := range []string{"Multi-volume archive tool", "Commands:", "pack", "Create an archive", "# Pack a directory"} {
		if !strings.Contains(help, want) {
			t.Errorf("help output missing %q:\n%s", want, help)
		}
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	root := &Command{
		Name:        "nekodata",
		Output:      &bytes.Buffer{},
		Subcommands: []*Command{{Name: "pack", Run: func([]string) error { return nil }}},
	}
	if err := root.Execute(nil); err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("Execute() error = %v, want subcommand required", err)
	}
}

func TestCommand_FullName(t *testing.T) {
	var name string
	child := &Command{Name: "export"}
	child.Run = func([]string) error { name = child.fullName(); return nil }
	root := &Command{Name: "nekodata", Subcommands: []*Command{child}}
	if err := root.Execute([]string{"export"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if name != "nekodata export" {
		t.Errorf("fullName() = %q, want %q", name, "nekodata export")
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 2}
	coder, ok := err.(interface{ ExitCode() int })
	if !ok || coder.ExitCode() != 2 {
		t.Errorf("ExitError does not report code 2")
	}
}
