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

package experiment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLifecycle(t *testing.T) {
	now := time.Date(2021, 3, 4, 5, 6, 0, 0, time.UTC)
	r := &Record{ID: "a", Status: StatusPending}

	require.NoError(t, r.Start(now))
	assert.Equal(t, StatusRunning, r.Status)

	// Cannot start twice
	assert.True(t, errors.Is(r.Start(now), ErrInvalidTransition))

	// Cannot finish with a non-terminal status
	assert.True(t, errors.Is(r.Finish(StatusPending, nil, now), ErrInvalidTransition))

	require.NoError(t, r.Finish(StatusCompleted, nil, now.Add(90*time.Second)))
	assert.Equal(t, StatusCompleted, r.Status)
	if assert.NotNil(t, r.Result) {
		assert.Equal(t, SourceUnresolved, r.Result.Source)
	}
	assert.Equal(t, 90*time.Second, r.WallTime())
	assert.False(t, r.HasResult())

	// Terminal records never move again
	assert.True(t, errors.Is(r.Start(now), ErrInvalidTransition))
	assert.True(t, errors.Is(r.Finish(StatusFailed, nil, now), ErrInvalidTransition))
	assert.False(t, r.Revert())
	assert.Equal(t, StatusCompleted, r.Status)
}

func TestRecordRevert(t *testing.T) {
	r := &Record{ID: "a", Status: StatusPending}
	require.NoError(t, r.Start(time.Now()))
	r.ErrorExcerpt = "partial"

	assert.True(t, r.Revert())
	assert.Equal(t, StatusPending, r.Status)
	assert.Nil(t, r.StartTime)
	assert.Empty(t, r.ErrorExcerpt)

	// Pending records are left alone
	assert.False(t, r.Revert())
}

func TestSummarize(t *testing.T) {
	start := time.Date(2021, 3, 4, 5, 6, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute)
	f1, epochs := 0.5, 12

	testCases := []struct {
		desc     string
		record   Record
		expected string
	}{
		{
			desc:     "pending",
			record:   Record{ID: "a", Status: StatusPending},
			expected: "a pending",
		},
		{
			desc: "completed",
			record: Record{ID: "a", Status: StatusCompleted, StartTime: &start, EndTime: &end,
				Result: &Result{F1Macro: &f1, EpochsRun: &epochs, Source: SourceLog}},
			expected: "a completed f1=0.5000, epochs=12, source=log (2m0s)",
		},
		{
			desc: "failed",
			record: Record{ID: "a", Status: StatusFailed, StartTime: &start, EndTime: &end,
				Result: Unresolved(), ErrorExcerpt: "line one\nboom\n\n"},
			expected: "a failed source=unresolved (2m0s) - boom",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, Summarize(&tc.record))
		})
	}
}

func TestLayout(t *testing.T) {
	l := Layout{ResultsDir: "/results"}
	assert.Equal(t, "/results/queue.json", l.QueuePath())
	assert.Equal(t, "/results/logs/x.log", l.LogPath("x"))
	assert.Equal(t, "/results/submissions/x.csv", l.SubmissionPath("x"))
	assert.Equal(t, "/results/submissions/x.json", l.SidecarPath("x"))
	assert.Equal(t, "/results/checkpoints/x/checkpoint.json", l.CheckpointMetadataPath("x"))
	assert.Equal(t, "/results/results/x.json", l.ResultPath("x"))
	assert.Equal(t, "/results/submissions.csv", l.SubmissionStorePath())
}
