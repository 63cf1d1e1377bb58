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

package results

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testID = "resnet50__optimizer__adamw__2103141509"

func write(t *testing.T, path, data string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
}

func f64(v float64) *float64 { return &v }
func intPtr(v int) *int { return &v }

func TestScanLog(t *testing.T) {
	testCases := []struct {
		desc     string
		log      string
		expected *experiment.Result
	}{
		{
			desc:     "hyphenated f1 score",
			log:      "Epoch: 1\nValidation F1-score: 0.5\n",
			expected: &experiment.Result{F1Macro: f64(0.5), EpochsRun: intPtr(1)},
		},
		{
			desc: "last match wins",
			log: `epoch=1 val_f1=0.41 val_acc=0.6
epoch=2 val_f1=0.52 val_acc=0.7
epoch=3 val_f1=0.49 val_acc=0.72
best f1_score: 0.52`,
			expected: &experiment.Result{F1Macro: f64(0.52), Accuracy: f64(0.72), EpochsRun: intPtr(3)},
		},
		{
			desc:     "case insensitive",
			log:      "VALIDATION_F1 = 0.8 ACCURACY: 0.9",
			expected: &experiment.Result{F1Macro: f64(0.8), Accuracy: f64(0.9)},
		},
		{
			desc:     "space separated score",
			log:      "f1 score: 0.77",
			expected: &experiment.Result{F1Macro: f64(0.77)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			r, err := ScanLog(strings.NewReader(tc.log))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, r)
		})
	}
}

func TestScanLogWithoutF1(t *testing.T) {
	_, err := ScanLog(strings.NewReader("epoch: 3\naccuracy: 0.9\n"))
	assert.Equal(t, ErrNoResult, err)
}

func TestFileSources(t *testing.T) {
	layout := experiment.Layout{ResultsDir: t.TempDir()}
	ctx := context.Background()

	sidecar := &SidecarSource{Layout: layout}
	checkpoint := &CheckpointSource{Layout: layout}

	_, err := sidecar.Fetch(ctx, testID)
	assert.Equal(t, ErrNoResult, err)
	_, err = checkpoint.Fetch(ctx, testID)
	assert.Equal(t, ErrNoResult, err)

	write(t, layout.SidecarPath(testID), `{"f1_macro": 0.61, "accuracy": "0.83", "epochs_run": 17, "wall_time_minutes": 12.5}`)
	r, err := sidecar.Fetch(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, &experiment.Result{F1Macro: f64(0.61), Accuracy: f64(0.83), EpochsRun: intPtr(17), WallTimeMinutes: f64(12.5)}, r)

	write(t, layout.CheckpointMetadataPath(testID), `{"val_f1": 0.6, "val_acc": null, "epoch": 20, "training_time": 90}`)
	r, err = checkpoint.Fetch(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, &experiment.Result{F1Macro: f64(0.6), EpochsRun: intPtr(20), WallTimeMinutes: f64(1.5)}, r)

	write(t, layout.SidecarPath(testID), `{"f1_macro": `)
	_, err = sidecar.Fetch(ctx, testID)
	assert.Error(t, err)
}

// trackerServer serves a single finished run for the test experiment
func trackerServer(t *testing.T, status int, f1 float64) (*httptest.Server, *http.Request) {
	last := &http.Request{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*last = *r.Clone(context.Background())
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		assert.Equal(t, "/api/v1/projects/vision/runs", r.URL.Path)
		name := r.URL.Query().Get("name")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"runs": []map[string]interface{}{
				{"name": name + "-rerun", "state": "finished", "summary": map[string]interface{}{"val_f1": 0.01}},
				{
					"name":        name,
					"state":       "finished",
					"summary":     map[string]interface{}{"val_f1": f1, "val_acc": 0.9, "epoch": 42},
					"created_at":  "2021-03-14T15:00:00Z",
					"finished_at": "2021-03-14T15:30:00Z",
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, last
}

func newTrackerSource(t *testing.T, address string) *TrackerSource {
	c, err := NewTrackerClient(context.Background(), TrackerConfig{
		Address:      address,
		Project:      "vision",
		APIKey:       "s3cr3t",
		RetryMax:     1,
		RetryWaitMin: time.Millisecond,
	})
	require.NoError(t, err)
	return &TrackerSource{Client: c}
}

func TestTrackerSource(t *testing.T) {
	srv, last := trackerServer(t, http.StatusOK, 0.7)
	s := newTrackerSource(t, srv.URL)

	r, err := s.Fetch(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, &experiment.Result{F1Macro: f64(0.7), Accuracy: f64(0.9), EpochsRun: intPtr(42), WallTimeMinutes: f64(30)}, r)
	assert.Equal(t, "Bearer s3cr3t", last.Header.Get("Authorization"))
	assert.True(t, strings.HasPrefix(last.UserAgent(), "trialmatrix/"))
	assert.Equal(t, testID, last.URL.Query().Get("name"))
}

func TestTrackerSourceMissing(t *testing.T) {
	srv, _ := trackerServer(t, http.StatusNotFound, 0)
	_, err := newTrackerSource(t, srv.URL).Fetch(context.Background(), testID)
	assert.Equal(t, ErrNoResult, err)

	srv, _ = trackerServer(t, http.StatusInternalServerError, 0)
	_, err = newTrackerSource(t, srv.URL).Fetch(context.Background(), testID)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoResult))
}

func TestParserSourceOrdering(t *testing.T) {
	layout := experiment.Layout{ResultsDir: t.TempDir()}
	write(t, layout.SidecarPath(testID), `{"f1_macro": 0.6}`)
	write(t, layout.LogPath(testID), "val_f1: 0.5\n")
	write(t, layout.CheckpointMetadataPath(testID), `{"val_f1": 0.4}`)

	okServer, _ := trackerServer(t, http.StatusOK, 0.7)
	badServer, _ := trackerServer(t, http.StatusInternalServerError, 0)
	log := zapr.NewLogger(zap.NewNop())

	testCases := []struct {
		desc     string
		sources  []Source
		f1       float64
		expected experiment.Source
	}{
		{
			desc:     "tracker first",
			sources:  []Source{newTrackerSource(t, okServer.URL), &SidecarSource{Layout: layout}, &LogSource{Layout: layout}, &CheckpointSource{Layout: layout}},
			f1:       0.7,
			expected: experiment.SourceTrackerAPI,
		},
		{
			desc:     "failing tracker",
			sources:  []Source{newTrackerSource(t, badServer.URL), &SidecarSource{Layout: layout}, &LogSource{Layout: layout}, &CheckpointSource{Layout: layout}},
			f1:       0.6,
			expected: experiment.SourceSidecar,
		},
		{
			desc:     "log",
			sources:  []Source{&LogSource{Layout: layout}, &CheckpointSource{Layout: layout}},
			f1:       0.5,
			expected: experiment.SourceLog,
		},
		{
			desc:     "checkpoint",
			sources:  []Source{&CheckpointSource{Layout: layout}},
			f1:       0.4,
			expected: experiment.SourceCheckpoint,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			r := NewParser(log, tc.sources...).Parse(context.Background(), testID)
			assert.Equal(t, tc.expected, r.Source)
			if assert.NotNil(t, r.F1Macro) {
				assert.Equal(t, tc.f1, *r.F1Macro)
			}
		})
	}
}

func TestParserUnresolved(t *testing.T) {
	layout := experiment.Layout{ResultsDir: t.TempDir()}
	write(t, layout.LogPath(testID), "training crashed\n")
	p := NewParser(zapr.NewLogger(zap.NewNop()), &SidecarSource{Layout: layout}, &LogSource{Layout: layout}, &CheckpointSource{Layout: layout})

	_, err := p.Resolve(context.Background(), testID)
	var unresolved *SourceUnresolved
	if assert.True(t, errors.As(err, &unresolved)) {
		assert.Len(t, unresolved.Reasons, 3)
		assert.Contains(t, err.Error(), "sidecar: no result")
	}

	r := p.Parse(context.Background(), testID)
	assert.Equal(t, experiment.Unresolved(), r)
	assert.False(t, r.Resolved())
}
