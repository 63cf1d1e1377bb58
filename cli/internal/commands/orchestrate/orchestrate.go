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

package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gramlabs/trialmatrix/cli/internal/commander"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/isolation"
	"github.com/gramlabs/trialmatrix/internal/matrix"
	"github.com/gramlabs/trialmatrix/internal/platform"
	"github.com/gramlabs/trialmatrix/internal/queue"
	"github.com/gramlabs/trialmatrix/internal/results"
	"github.com/gramlabs/trialmatrix/internal/runner"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

// Options is the configuration for running the experiment queue
type Options struct {
	commander.IOStreams
	Globals *commander.Globals

	Resume      bool
	Models      []string
	Categories  []string
	Priority    int
	Limit       int
	DryRun      bool
	MetricsFile string

	Printer commander.ResourcePrinter
	// Prober detects the platform, the current host is used if nil
	Prober *platform.Prober
	// Now returns the matrix creation time
	Now func() time.Time
}

// NewCommand creates a new command for running the experiment queue
func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Run the experiment matrix",
		Long: "Enumerate the experiment matrix, compose a configuration for every combination " +
			"and run each trainer in isolation, one at a time, recording the results.",
		Args: cobra.NoArgs,

		PreRun: commander.StreamsPreRun(&o.IOStreams),
		RunE:   commander.WithContextE(o.run),
	}

	cmd.Flags().BoolVar(&o.Resume, "resume", o.Resume, "continue the persisted queue, skipping finished experiments")
	cmd.Flags().StringArrayVar(&o.Models, "model", nil, "only run the model `id` (may be repeated)")
	cmd.Flags().StringArrayVar(&o.Categories, "category", nil, "only run the category `name` (may be repeated)")
	cmd.Flags().IntVar(&o.Priority, "priority", o.Priority, "only run options with a priority tier of at most `N`")
	cmd.Flags().IntVar(&o.Limit, "limit", o.Limit, "run at most `N` experiments")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", o.DryRun, "print the enumerated experiments without running them")
	cmd.Flags().StringVar(&o.MetricsFile, "metrics-file", o.MetricsFile, "write Prometheus metrics to `file` after every experiment")

	_ = cmd.MarkFlagFilename("metrics-file", "prom")

	commander.SetPrinter(commander.RecordsMeta{}, &o.Printer, cmd)

	return cmd
}

func (o *Options) run(ctx context.Context) error {
	s := o.Globals.Settings
	log := o.Globals.Log

	prober := o.Prober
	if prober == nil {
		prober = platform.NewProber()
	}

	created := o.now()
	records, err := o.records(prober.Probe(), created)
	if err != nil {
		return err
	}

	if o.DryRun {
		return o.Printer.PrintObj(records, o.Out)
	}

	layout := experiment.Layout{ResultsDir: s.ResultsDir}

	iso := isolation.NewManager(s.TempPrefix, s.BaseSeed, log.WithName("isolation"))
	iso.MemoryUsedGB = prober.AcceleratorMemoryUsedGB

	parser, err := o.parser(ctx, layout)
	if err != nil {
		return err
	}

	driver := &queue.Driver{
		Layout:      layout,
		Isolation:   iso,
		Runner:      runner.New(log.WithName("runner")),
		Parser:      parser,
		Log:         log.WithName("queue"),
		Timeout:     s.Timeout,
		GracePeriod: s.GracePeriod,
		Created:     created,
		Progress:    queue.NewProgress(o.Out, termenv.ColorProfile()),
		Metrics:     queue.NewMetrics(),
		MetricsFile: o.MetricsFile,
	}
	if s.Matrix != nil {
		driver.Dir = s.Matrix.Dir
	}

	summary, err := driver.RunQueue(ctx, records, o.Resume)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(o.Out, "Run %s: %s\n", summary.RunID, summary)
	return err
}

// records enumerates and composes the matrix, the matrix may only be absent when resuming
func (o *Options) records(profile platform.Profile, created time.Time) ([]experiment.Record, error) {
	spec := o.Globals.Settings.Matrix
	if spec == nil {
		if o.Resume && !o.DryRun {
			return nil, nil
		}
		return nil, errors.New("no experiment matrix found, use --matrix to specify one")
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid experiment matrix: %w", err)
	}

	filters := matrix.Filters{
		Models:      o.Models,
		Categories:  o.Categories,
		MaxPriority: o.Priority,
		Limit:       o.Limit,
	}
	if unknown := matrix.UnknownNames(spec, filters); len(unknown) > 0 {
		return nil, fmt.Errorf("unknown %s", strings.Join(unknown, ", "))
	}

	o.Globals.Log.Info("Detected platform", "os", profile.OS, "accelerator", profile.Accelerator, "cpus", profile.CPUCount)
	combos := matrix.Enumerate(spec, filters, created)
	return matrix.Build(combos, matrix.NewComposer(spec, profile).Compose)
}

// parser returns the result sources in order of preference, the tracker API is only consulted for a configured project
func (o *Options) parser(ctx context.Context, layout experiment.Layout) (*results.Parser, error) {
	s := o.Globals.Settings

	var sources []results.Source
	if s.Tracker.Project != "" {
		client, err := results.NewTrackerClient(ctx, s.TrackerConfig())
		if err != nil {
			return nil, err
		}
		sources = append(sources, &results.TrackerSource{Client: client})
	}
	sources = append(sources,
		&results.SidecarSource{Layout: layout},
		&results.LogSource{Layout: layout},
		&results.CheckpointSource{Layout: layout},
	)

	return results.NewParser(o.Globals.Log.WithName("results"), sources...), nil
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
