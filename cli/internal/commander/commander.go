/*
Copyright 2021 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package commander holds the plumbing shared by the command line tools:
// streams, global flags, printers and error mapping.
package commander

import (
	"context"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gramlabs/trialmatrix/internal/config"
	"github.com/spf13/cobra"
)

// IOStreams are the process streams of a command, or the overrides set on the command.
type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// StreamsPreRun returns a pre-run function which binds the streams to the running command.
func StreamsPreRun(streams *IOStreams) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, _ []string) {
		streams.In = cmd.InOrStdin()
		streams.Out = cmd.OutOrStdout()
		streams.ErrOut = cmd.ErrOrStderr()
	}
}

// Globals are the values shared by every command of a tool.
type Globals struct {
	Settings *config.Settings
	Verbose  bool
	Log      logr.Logger
}

// SetGlobals registers the persistent flags on the root of the supplied command. The
// settings are loaded and the logger is created before any command runs.
func SetGlobals(g *Globals, cmd *cobra.Command) {
	root := cmd.Root()
	s := g.Settings

	flags := root.PersistentFlags()
	flags.StringVar(&s.MatrixFile, "matrix", s.MatrixFile, "path to the experiment matrix `file`")
	flags.StringVar(&s.Overrides.ResultsDir, "results-dir", "", "the `directory` holding the queue and all experiment results")
	flags.BoolVarP(&g.Verbose, "verbose", "v", false, "enable debug logging")

	_ = root.MarkPersistentFlagFilename("matrix", "yaml", "yml", "json")
	_ = root.MarkPersistentFlagDirname("results-dir")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		g.Log = NewLogger(cmd.ErrOrStderr(), g.Verbose).WithName(root.Name())
		return s.Load()
	}
}

// SetPrinter adds the output flags to the command and creates the printer before it runs.
func SetPrinter(meta TableMeta, printer *ResourcePrinter, cmd *cobra.Command) {
	pf := newPrintFlags(meta, cmd.Annotations)
	pf.addFlags(cmd)
	AddPreRunE(cmd, func(*cobra.Command, []string) error { return pf.toPrinter(printer) })
}

// WithContextE adapts a function of the command context to a cobra run function.
func WithContextE(runE func(context.Context) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error { return runE(cmd.Context()) }
}

// WithoutArgsE adapts a function without arguments to a cobra run function.
func WithoutArgsE(runE func() error) func(*cobra.Command, []string) error {
	return func(*cobra.Command, []string) error { return runE() }
}

// AddPreRunE puts preRunE in front of the existing pre-run functions of the command.
// The existing functions are skipped if preRunE fails.
func AddPreRunE(cmd *cobra.Command, preRunE func(*cobra.Command, []string) error) {
	next, nextE := cmd.PreRun, cmd.PreRunE
	cmd.PreRun = nil
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if err := preRunE(cmd, args); err != nil {
			return err
		}
		switch {
		case nextE != nil:
			return nextE(cmd, args)
		case next != nil:
			next(cmd, args)
		}
		return nil
	}
}

// SetFlagValues lists the allowed values of a flag in its usage and its shell completion.
// Blank values are not listed.
func SetFlagValues(cmd *cobra.Command, flagName string, values ...string) {
	f := cmd.Flag(flagName)
	if f == nil {
		return
	}

	choices := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			choices = append(choices, v)
		}
	}

	f.Usage += "; one of: " + strings.Join(choices, "|")
	_ = cmd.RegisterFlagCompletionFunc(flagName, func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var matches []string
		for _, c := range choices {
			if strings.HasPrefix(c, toComplete) {
				matches = append(matches, c)
			}
		}
		return matches, cobra.ShellCompDirectiveNoFileComp
	})
}

// MapErrors passes every error returned by the command, or any of its sub-commands, through f.
func MapErrors(cmd *cobra.Command, f func(error) error) {
	for _, runE := range []*func(*cobra.Command, []string) error{
		&cmd.PersistentPreRunE,
		&cmd.PreRunE,
		&cmd.RunE,
		&cmd.PostRunE,
		&cmd.PersistentPostRunE,
	} {
		if fn := *runE; fn != nil {
			*runE = func(cmd *cobra.Command, args []string) error { return f(fn(cmd, args)) }
		}
	}

	for _, c := range cmd.Commands() {
		MapErrors(c, f)
	}
}
