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

// Package queue runs experiment records one at a time, persisting every
// status transition so an interrupted run can be resumed.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/gramlabs/trialmatrix/internal/compose"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/isolation"
	"github.com/gramlabs/trialmatrix/internal/runner"
	"github.com/gramlabs/trialmatrix/internal/sfio"
)

// Configuration paths stamped by the driver at run time.
const (
	PathSeed           = "seed"
	PathSubmissionPath = "submission_path"
	PathSidecarPath    = "sidecar_path"
)

// JobRunner executes a single trainer.
type JobRunner interface {
	Run(ctx context.Context, job runner.Job) runner.Outcome
}

// ResultParser recovers the metrics of an experiment.
type ResultParser interface {
	Parse(ctx context.Context, experimentID string) *experiment.Result
}

// Driver executes the queue. Only one experiment runs at a time.
type Driver struct {
	Layout    experiment.Layout
	Isolation *isolation.Manager
	Runner    JobRunner
	Parser    ResultParser
	Log       logr.Logger

	// Timeout is the per-experiment wall-clock limit
	Timeout time.Duration
	// GracePeriod is the time between terminating and killing a timed out trainer
	GracePeriod time.Duration
	// Dir is the working directory of the trainers
	Dir string
	// Created is the creation time of the matrix, recorded in a new queue
	Created time.Time

	// Progress optionally reports the transitions
	Progress *Progress
	// Metrics optionally records the finished experiments
	Metrics *Metrics
	// MetricsFile is where the metrics are written after every experiment
	MetricsFile string

	// Now returns the current time
	Now func() time.Time
}

// Summary describes the outcome of a queue run.
type Summary struct {
	RunID       string
	Total       int
	Skipped     int
	Completed   int
	Failed      int
	TimedOut    int
	Unresolved  int
	Interrupted bool
}

// Run returns the number of experiments which reached a terminal status during the run.
func (s *Summary) Run() int {
	return s.Completed + s.Failed + s.TimedOut
}

func (s *Summary) String() string {
	msg := fmt.Sprintf("%d completed, %d failed, %d timed out, %d skipped", s.Completed, s.Failed, s.TimedOut, s.Skipped)
	if s.Unresolved > 0 {
		msg += fmt.Sprintf(" (%d without metrics)", s.Unresolved)
	}
	if s.Interrupted {
		msg += ", interrupted"
	}
	return msg
}

// Prepare returns the queue to run. When resuming, the persisted queue replaces
// the supplied records and interrupted experiments are returned to pending;
// the dirty flag reports whether the document differs from what is persisted.
func (d *Driver) Prepare(records []experiment.Record, resume bool) (doc *Document, dirty bool, err error) {
	store := d.store()

	if resume {
		doc, err = store.Load()
		switch {
		case err == nil:
			for i := range doc.Records {
				if doc.Records[i].Revert() {
					d.Log.Info("Reverted interrupted experiment", "experimentID", doc.Records[i].ID)
					dirty = true
				}
			}
			return doc, dirty, nil
		case errors.Is(err, os.ErrNotExist):
			d.Log.Info("No queue to resume, starting a new queue", "path", store.Path)
		default:
			return nil, false, err
		}
	}

	return NewDocument(records, d.Created), true, nil
}

// RunQueue runs every pending record in order. Cancelling the context stops the
// queue after the current experiment has been torn down and persisted; the
// running trainer is never abandoned. Only orchestrator level failures are
// returned as errors.
func (d *Driver) RunQueue(ctx context.Context, records []experiment.Record, resume bool) (*Summary, error) {
	doc, dirty, err := d.Prepare(records, resume)
	if err != nil {
		return nil, err
	}

	summary := &Summary{RunID: doc.RunID, Total: len(doc.Records)}
	pending := doc.Pending()
	summary.Skipped = summary.Total - pending
	if pending == 0 {
		d.Log.Info("Nothing to run", "runID", doc.RunID, "skipped", summary.Skipped)
		return summary, nil
	}

	if dirty {
		if err := d.persist(doc); err != nil {
			return summary, err
		}
	}

	if d.Progress != nil {
		d.Progress.Begin(pending)
	}

	n := 0
	for i := range doc.Records {
		r := &doc.Records[i]
		if r.Status != experiment.StatusPending {
			continue
		}
		if ctx.Err() != nil {
			summary.Interrupted = true
			d.Log.Info("Interrupted, stopping the queue", "remaining", pending-n)
			break
		}

		n++
		if err := d.runOne(doc, r, n, pending-n); err != nil {
			return summary, err
		}

		switch r.Status {
		case experiment.StatusCompleted:
			summary.Completed++
		case experiment.StatusFailed:
			summary.Failed++
		case experiment.StatusTimeout:
			summary.TimedOut++
		}
		if !r.HasResult() {
			summary.Unresolved++
		}
	}

	return summary, nil
}

// runOne moves a single record from pending to a terminal status
func (d *Driver) runOne(doc *Document, r *experiment.Record, n, remaining int) error {
	log := d.Log.WithValues("experimentID", r.ID)

	if err := r.Start(d.now()); err != nil {
		return err
	}
	if err := d.persist(doc); err != nil {
		return err
	}
	if d.Progress != nil {
		d.Progress.Started(n, r)
	}

	var result *experiment.Result
	status := experiment.StatusFailed

	switch {
	case r.Config == nil:
		// Pre-flight failure, the configuration never composed
		if r.ErrorExcerpt == "" {
			r.ErrorExcerpt = "no composed configuration"
		}
		log.Info("Skipping trainer, configuration is invalid", "reason", r.ErrorExcerpt)

	default:
		submissions := filepath.Dir(d.Layout.SubmissionPath(r.ID))
		if err := os.MkdirAll(submissions, 0755); err != nil {
			return &FatalError{Path: submissions, Err: err}
		}

		err := d.Isolation.With(r.ID, func(lease *isolation.Lease) error {
			out := d.Runner.Run(context.Background(), d.job(r, lease))
			status = out.Status
			rc := out.ReturnCode
			r.ReturnCode = &rc
			if out.Status != experiment.StatusCompleted {
				r.ErrorExcerpt = out.Tail
			}

			result = d.Parser.Parse(context.Background(), r.ID)
			if result.WallTimeMinutes == nil && out.WallTime > 0 {
				m := out.WallTime.Minutes()
				result.WallTimeMinutes = &m
			}
			return nil
		})

		unavailable := &isolation.IsolationUnavailable{}
		if errors.As(err, &unavailable) {
			log.Error(err, "Unable to isolate experiment")
			r.ErrorExcerpt = err.Error()
		} else if err != nil {
			return err
		}
	}

	if err := r.Finish(status, result, d.now()); err != nil {
		return err
	}
	if err := d.persist(doc); err != nil {
		return err
	}
	if err := sfio.WriteJSONAtomic(d.Layout.ResultPath(r.ID), r); err != nil {
		return &FatalError{Path: d.Layout.ResultPath(r.ID), Err: err}
	}

	log.Info("Experiment finished", "status", r.Status, "source", r.Result.Source)
	if d.Progress != nil {
		d.Progress.Finished(n, r, remaining)
	}
	if d.Metrics != nil {
		d.Metrics.Observe(r, remaining)
		if d.MetricsFile != "" {
			if err := d.Metrics.WriteToTextfile(d.MetricsFile); err != nil {
				log.Error(err, "Unable to write metrics", "path", d.MetricsFile)
			}
		}
	}
	return nil
}

// job stamps the run time values into the configuration and describes the trainer execution
func (d *Driver) job(r *experiment.Record, lease *isolation.Lease) runner.Job {
	_ = compose.Set(r.Config, PathSeed, lease.Seed)
	_ = compose.Set(r.Config, PathSubmissionPath, d.Layout.SubmissionPath(r.ID))
	_ = compose.Set(r.Config, PathSidecarPath, d.Layout.SidecarPath(r.ID))

	return runner.Job{
		ExperimentID: r.ID,
		ModelID:      r.ModelID,
		Category:     r.Category,
		Option:       r.OptionName,
		Seed:         lease.Seed,
		Invocation:   r.Invocation,
		Config:       r.Config,
		ScratchRoot:  lease.ScratchRoot,
		OutputDir:    lease.OutputDir(),
		Env:          lease.Environ(),
		Dir:          d.Dir,
		LogPath:      d.Layout.LogPath(r.ID),
		Timeout:      d.Timeout,
		GracePeriod:  d.GracePeriod,
	}
}

func (d *Driver) persist(doc *Document) error {
	doc.Updated = d.now()
	return d.store().Save(doc)
}

func (d *Driver) store() *Store {
	return &Store{Path: d.Layout.QueuePath()}
}

func (d *Driver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
