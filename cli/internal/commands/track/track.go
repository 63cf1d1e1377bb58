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

package track

import (
	"fmt"

	"github.com/gramlabs/trialmatrix/cli/internal/commander"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/tracker"
	"github.com/spf13/cobra"
)

// Options are the shared configuration of the tracker commands
type Options struct {
	commander.IOStreams
	Globals *commander.Globals

	Printer commander.ResourcePrinter
}

func (o *Options) tracker() *tracker.Tracker {
	layout := experiment.Layout{ResultsDir: o.Globals.Settings.ResultsDir}
	return tracker.New(layout, o.Globals.Log.WithName("tracker"))
}

// NewCommand creates the tracker commands, the supplied command is used as the parent
func NewCommand(root *cobra.Command, g *commander.Globals) *cobra.Command {
	root.AddCommand(NewSyncCommand(&Options{Globals: g}))
	root.AddCommand(NewMarkCommand(&MarkOptions{Options: Options{Globals: g}}))
	root.AddCommand(NewCandidatesCommand(&CandidatesOptions{Options: Options{Globals: g}, Strategy: string(tracker.BestLocal)}))
	root.AddCommand(NewCorrelationCommand(&Options{Globals: g}))
	root.AddCommand(NewEnsembleCommand(&Options{Globals: g}))
	return root
}

// NewSyncCommand creates a command which copies the local results into the submission table
func NewSyncCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize local results",
		Long:  "Copy the local score of every resolved experiment into the submission table",
		Args:  cobra.NoArgs,

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE: commander.WithoutArgsE(func() error {
			subs, err := o.tracker().Sync()
			if err != nil {
				return err
			}
			return o.Printer.PrintObj(subs, o.Out)
		}),
	}

	commander.SetPrinter(&submissionsMeta{}, &o.Printer, cmd)
	return cmd
}

// MarkOptions are the leaderboard values of a submission
type MarkOptions struct {
	Options

	ExperimentID  string
	ServerPublic  float64
	RankPublic    int
	ServerPrivate float64
	RankPrivate   int
	Notes         string
}

// NewMarkCommand creates a command which records a leaderboard submission
func NewMarkCommand(o *MarkOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Record a leaderboard submission",
		Long:  "Mark an experiment as submitted along with the scores reported by the leaderboard",
		Args:  cobra.NoArgs,

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE:   o.mark,
	}

	cmd.Flags().StringVar(&o.ExperimentID, "id", "", "the experiment `id` that was submitted")
	cmd.Flags().Float64Var(&o.ServerPublic, "public", 0, "the public leaderboard `score`")
	cmd.Flags().IntVar(&o.RankPublic, "rank", 0, "the public leaderboard `rank`")
	cmd.Flags().Float64Var(&o.ServerPrivate, "private", 0, "the private leaderboard `score`")
	cmd.Flags().IntVar(&o.RankPrivate, "rank-private", 0, "the private leaderboard `rank`")
	cmd.Flags().StringVar(&o.Notes, "notes", "", "free form `text` describing the submission")

	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("public")

	commander.SetPrinter(&submissionsMeta{}, &o.Printer, cmd)
	return cmd
}

func (o *MarkOptions) mark(cmd *cobra.Command, _ []string) error {
	opts := tracker.MarkOptions{Notes: o.Notes}
	if cmd.Flags().Changed("rank") {
		opts.RankPublic = &o.RankPublic
	}
	if cmd.Flags().Changed("private") {
		opts.ServerPrivate = &o.ServerPrivate
	}
	if cmd.Flags().Changed("rank-private") {
		opts.RankPrivate = &o.RankPrivate
	}

	s, err := o.tracker().MarkSubmitted(o.ExperimentID, o.ServerPublic, opts)
	if err != nil {
		return err
	}
	return o.Printer.PrintObj(s, o.Out)
}

// CandidatesOptions select the candidate strategy
type CandidatesOptions struct {
	Options

	Strategy string
}

// NewCandidatesCommand creates a command which suggests experiments to submit
func NewCandidatesCommand(o *CandidatesOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Suggest experiments to submit",
		Long:  "List the completed experiments which have not been submitted, selected by a strategy",
		Args:  cobra.NoArgs,

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE: commander.WithoutArgsE(func() error {
			records, err := o.tracker().Candidates(tracker.Strategy(o.Strategy))
			if err != nil {
				return err
			}
			return o.Printer.PrintObj(records, o.Out)
		}),
	}

	cmd.Flags().StringVar(&o.Strategy, "strategy", o.Strategy, "candidate selection `strategy`")
	var strategies []string
	for _, s := range tracker.Strategies {
		strategies = append(strategies, string(s))
	}
	commander.SetFlagValues(cmd, "strategy", strategies...)

	commander.SetPrinter(commander.RecordsMeta{}, &o.Printer, cmd)
	return cmd
}

// NewCorrelationCommand creates a command which reports the local to leaderboard agreement
func NewCorrelationCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correlation",
		Short: "Compare local and leaderboard scores",
		Long:  "Report the Pearson correlation of the local and public leaderboard scores of the submitted experiments",
		Args:  cobra.NoArgs,

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE: commander.WithoutArgsE(func() error {
			c, err := o.tracker().Correlation()
			if err != nil {
				return err
			}
			return o.Printer.PrintObj(c, o.Out)
		}),
	}

	commander.SetPrinter(&correlationMeta{}, &o.Printer, cmd)
	return cmd
}

// NewEnsembleCommand creates a command which lists the ensemble recommendations
func NewEnsembleCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensemble",
		Short: "List ensemble members",
		Long:  "List the submissions in the top third of the public leaderboard which are not overfitting",
		Args:  cobra.NoArgs,

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE: commander.WithoutArgsE(func() error {
			subs, err := o.tracker().EnsembleRecommendations()
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				_, err := fmt.Fprintln(o.ErrOut, "No ensemble recommendations, mark more submissions first.")
				return err
			}
			return o.Printer.PrintObj(subs, o.Out)
		}),
	}

	commander.SetPrinter(&submissionsMeta{}, &o.Printer, cmd)
	return cmd
}
