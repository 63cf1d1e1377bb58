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

//go:build !windows

package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/isolation"
	"github.com/gramlabs/trialmatrix/internal/matrix"
	"github.com/gramlabs/trialmatrix/internal/platform"
	"github.com/gramlabs/trialmatrix/internal/results"
	"github.com/gramlabs/trialmatrix/internal/runner"
	"github.com/muesli/termenv"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMatrix = `
models:
  - model_id: resnet50
    trainer_invocation: %s
  - model_id: efficientnet_b0
    trainer_invocation: %s
experiment_categories:
  optimizer:
    options:
      - name: adamw
        patches: {lr: 0.001}
      - name: sgd
        patches: {lr: 0.01}
`

type testEnv struct {
	driver   *Driver
	scratch  string
	progress *bytes.Buffer
}

// newTestEnv returns a driver running the supplied trainer script
func newTestEnv(t *testing.T) *testEnv {
	log := zapr.NewLogger(zap.NewNop())
	layout := experiment.Layout{ResultsDir: t.TempDir()}
	scratch := t.TempDir()

	iso := isolation.NewManager(scratch, 42, log)
	iso.Policy = isolation.ReleasePolicy{GCPasses: 1}

	progress := &bytes.Buffer{}
	return &testEnv{
		driver: &Driver{
			Layout:    layout,
			Isolation: iso,
			Runner:    runner.New(log),
			Parser: results.NewParser(log,
				&results.SidecarSource{Layout: layout},
				&results.LogSource{Layout: layout},
				&results.CheckpointSource{Layout: layout}),
			Log:         log,
			Timeout:     10 * time.Second,
			GracePeriod: 200 * time.Millisecond,
			Created:     time.Date(2021, 3, 14, 15, 9, 0, 0, time.UTC),
			Progress:    NewProgress(progress, termenv.Ascii),
			Metrics:     NewMetrics(),
		},
		scratch:  scratch,
		progress: progress,
	}
}

// records builds the standard 2 models by 2 options queue against a stub trainer
func (e *testEnv) records(t *testing.T, body string) []experiment.Record {
	script := filepath.Join(t.TempDir(), "train.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0755))

	spec, err := matrix.Parse([]byte(fmt.Sprintf(testMatrix, script, script)))
	require.NoError(t, err)
	require.NoError(t, spec.Validate())

	combos := matrix.Enumerate(spec, matrix.Filters{}, e.driver.Created)
	records, err := matrix.Build(combos, matrix.NewComposer(spec, platform.Profile{Accelerator: platform.CPU, CPUCount: 2}).Compose)
	require.NoError(t, err)
	return records
}

func (e *testEnv) load(t *testing.T) *Document {
	doc, err := e.driver.store().Load()
	require.NoError(t, err)
	return doc
}

func (e *testEnv) assertScratchPurged(t *testing.T) {
	entries, err := os.ReadDir(e.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// recordingRunner wraps a runner to observe (and disrupt) trainer executions
type recordingRunner struct {
	JobRunner
	ran    []string
	before func(n int)
}

func (r *recordingRunner) Run(ctx context.Context, job runner.Job) runner.Outcome {
	r.ran = append(r.ran, job.ExperimentID)
	if r.before != nil {
		r.before(len(r.ran))
	}
	return r.JobRunner.Run(ctx, job)
}

func TestCompletedQueue(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `echo "epoch: 12"; echo "Validation F1-score: 0.5"`)
	require.Len(t, records, 4)

	summary, err := e.driver.RunQueue(context.Background(), records, false)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Completed)
	assert.Equal(t, 4, summary.Run())
	assert.Equal(t, 0, summary.Unresolved)

	doc := e.load(t)
	assert.Equal(t, SchemaVersion, doc.SchemaVersion)
	assert.Equal(t, summary.RunID, doc.RunID)
	for _, r := range doc.Records {
		assert.Equal(t, experiment.StatusCompleted, r.Status, r.ID)
		if assert.NotNil(t, r.Result) && assert.NotNil(t, r.Result.F1Macro) {
			assert.Equal(t, 0.5, *r.Result.F1Macro)
			assert.Equal(t, experiment.SourceLog, r.Result.Source)
			assert.Equal(t, 12, *r.Result.EpochsRun)
			assert.NotNil(t, r.Result.WallTimeMinutes)
		}
		assert.Equal(t, 0, *r.ReturnCode)
		assert.FileExists(t, e.driver.Layout.ResultPath(r.ID))
		assert.EqualValues(t, isolation.Seed(42, r.ID), r.Config[PathSeed])
		assert.Equal(t, e.driver.Layout.SubmissionPath(r.ID), r.Config[PathSubmissionPath])
	}
	e.assertScratchPurged(t)

	assert.Equal(t, 4.0, testutil.ToFloat64(e.driver.Metrics.Experiments.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.driver.Metrics.Remaining))
	assert.Contains(t, e.progress.String(), "[1/4] resnet50__optimizer__adamw__2103141509 running")
	assert.Contains(t, e.progress.String(), "[4/4] efficientnet_b0__optimizer__sgd__2103141509 completed f1=0.5000")
	assert.Contains(t, e.progress.String(), ", eta ")
}

func TestFailedQueue(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `echo "Traceback: boom" >&2; exit 2`)

	summary, err := e.driver.RunQueue(context.Background(), records, false)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Failed)
	assert.Equal(t, 4, summary.Unresolved)

	for _, r := range e.load(t).Records {
		assert.Equal(t, experiment.StatusFailed, r.Status)
		assert.Equal(t, 2, *r.ReturnCode)
		assert.Equal(t, "Traceback: boom", r.ErrorExcerpt)
		assert.Equal(t, experiment.SourceUnresolved, r.Result.Source)
	}
	e.assertScratchPurged(t)
}

func TestTimedOutQueue(t *testing.T) {
	e := newTestEnv(t)
	e.driver.Timeout = 200 * time.Millisecond
	records := e.records(t, `echo "epoch: 1"; sleep 30`)

	summary, err := e.driver.RunQueue(context.Background(), records, false)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TimedOut)

	for _, r := range e.load(t).Records {
		assert.Equal(t, experiment.StatusTimeout, r.Status)
		assert.Equal(t, "epoch: 1", r.ErrorExcerpt)
		require.NotNil(t, r.Result)
	}
	e.assertScratchPurged(t)
}

func TestResumeAfterCrash(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `echo "val_f1: 0.7"`)
	real := e.driver.Runner

	// The driver dies while the third trainer is running
	crashing := &recordingRunner{JobRunner: real, before: func(n int) {
		if n == 3 {
			panic("driver killed")
		}
	}}
	e.driver.Runner = crashing
	assert.Panics(t, func() { _, _ = e.driver.RunQueue(context.Background(), records, false) })

	crashed := e.load(t)
	assert.Equal(t, experiment.StatusCompleted, crashed.Records[0].Status)
	assert.Equal(t, experiment.StatusCompleted, crashed.Records[1].Status)
	assert.Equal(t, experiment.StatusRunning, crashed.Records[2].Status)
	assert.Equal(t, experiment.StatusPending, crashed.Records[3].Status)
	e.assertScratchPurged(t)

	doc, dirty, err := e.driver.Prepare(nil, true)
	require.NoError(t, err)
	assert.True(t, dirty)
	assert.Equal(t, experiment.StatusPending, doc.Records[2].Status)
	assert.Nil(t, doc.Records[2].StartTime)

	resumed := &recordingRunner{JobRunner: real}
	e.driver.Runner = resumed
	summary, err := e.driver.RunQueue(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, crashed.RunID, summary.RunID)
	assert.Equal(t, []string{records[2].ID, records[3].ID}, resumed.ran)

	doc = e.load(t)
	for i, r := range doc.Records {
		assert.Equal(t, experiment.StatusCompleted, r.Status, r.ID)
		assert.Equal(t, records[i].ID, r.ID)
	}
	assert.Equal(t, crashed.Records[0].EndTime.UnixNano(), doc.Records[0].EndTime.UnixNano())
}

func TestResumeCompletedQueue(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `echo "val_f1: 0.7"`)

	_, err := e.driver.RunQueue(context.Background(), records, false)
	require.NoError(t, err)
	before, err := os.ReadFile(e.driver.Layout.QueuePath())
	require.NoError(t, err)

	counting := &recordingRunner{JobRunner: e.driver.Runner}
	e.driver.Runner = counting
	summary, err := e.driver.RunQueue(context.Background(), records, true)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Skipped)
	assert.Equal(t, 0, summary.Run())
	assert.Empty(t, counting.ran)

	after, err := os.ReadFile(e.driver.Layout.QueuePath())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestResumeWithoutQueue(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `echo "val_f1: 0.7"`)

	summary, err := e.driver.RunQueue(context.Background(), records[:1], true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
}

func TestInterrupt(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `sleep 0.2; echo "val_f1: 0.7"`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupting := &recordingRunner{JobRunner: e.driver.Runner, before: func(int) { cancel() }}
	e.driver.Runner = interrupting

	summary, err := e.driver.RunQueue(ctx, records, false)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Completed)
	assert.Len(t, interrupting.ran, 1)

	// The trainer running at the interrupt still finished normally
	doc := e.load(t)
	assert.Equal(t, experiment.StatusCompleted, doc.Records[0].Status)
	assert.Equal(t, 0.7, *doc.Records[0].Result.F1Macro)
	for _, r := range doc.Records[1:] {
		assert.Equal(t, experiment.StatusPending, r.Status)
	}
	e.assertScratchPurged(t)
}

func TestPreflightFailure(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `echo "val_f1: 0.7"`)
	records[1].Config = nil
	records[1].ErrorExcerpt = "invalid configuration: training.batch_size must be at most 512, got 1024"

	counting := &recordingRunner{JobRunner: e.driver.Runner}
	e.driver.Runner = counting
	summary, err := e.driver.RunQueue(context.Background(), records, false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.NotContains(t, counting.ran, records[1].ID)

	r := e.load(t).Records[1]
	assert.Equal(t, experiment.StatusFailed, r.Status)
	assert.Nil(t, r.ReturnCode)
	assert.Equal(t, experiment.SourceUnresolved, r.Result.Source)
	assert.Contains(t, r.ErrorExcerpt, "batch_size")
}

func TestSidecarFromStampedPath(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `
sidecar=$(grep '^sidecar_path:' "$2" | cut -d' ' -f2)
echo '{"f1_macro": 0.91, "epochs_run": 30}' > "$sidecar"
echo "val_f1: 0.5"`)

	_, err := e.driver.RunQueue(context.Background(), records[:1], false)
	require.NoError(t, err)

	r := e.load(t).Records[0]
	assert.Equal(t, experiment.SourceSidecar, r.Result.Source)
	assert.Equal(t, 0.91, *r.Result.F1Macro)
}

func TestMetricsTextfile(t *testing.T) {
	e := newTestEnv(t)
	e.driver.MetricsFile = filepath.Join(t.TempDir(), "trialmatrix.prom")
	records := e.records(t, `echo "val_f1: 0.7"`)

	_, err := e.driver.RunQueue(context.Background(), records[:2], false)
	require.NoError(t, err)

	b, err := os.ReadFile(e.driver.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `trialmatrix_experiments_total{status="completed"} 2`)
	assert.Contains(t, string(b), `trialmatrix_queue_remaining 0`)
}

func TestFatalPersistence(t *testing.T) {
	e := newTestEnv(t)
	records := e.records(t, `echo "val_f1: 0.7"`)

	// The queue path is a directory, nothing can be written
	require.NoError(t, os.MkdirAll(e.driver.Layout.QueuePath(), 0755))
	_, err := e.driver.RunQueue(context.Background(), records, false)

	var fatal *FatalError
	if assert.True(t, errors.As(err, &fatal)) {
		assert.Equal(t, e.driver.Layout.QueuePath(), fatal.Path)
	}
}
