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

package queue

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "queue.json")}

	_, err := s.Load()
	assert.True(t, errors.Is(err, os.ErrNotExist))

	created := time.Date(2021, 3, 14, 15, 9, 0, 0, time.UTC)
	doc := NewDocument([]experiment.Record{{ID: "a", Status: experiment.StatusPending}, {ID: "b", Status: experiment.StatusCompleted, Result: experiment.Unresolved()}}, created)
	require.NoError(t, s.Save(doc))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, doc.RunID, loaded.RunID)
	assert.Len(t, loaded.RunID, 36)
	assert.True(t, created.Equal(loaded.Created))
	assert.Equal(t, 1, loaded.Pending())
	assert.Equal(t, experiment.SourceUnresolved, loaded.Records[1].Result.Source)
}

func TestStoreRejects(t *testing.T) {
	testCases := []struct {
		desc     string
		data     string
		expected string
	}{
		{
			desc:     "corrupt",
			data:     `{"schemaVersion": "v1.0.0", "records": [`,
			expected: "corrupt queue",
		},
		{
			desc:     "missing version",
			data:     `{"records": []}`,
			expected: `invalid queue schema version ""`,
		},
		{
			desc:     "newer major version",
			data:     `{"schemaVersion": "v2.0.0", "records": []}`,
			expected: "unsupported queue schema version v2.0.0",
		},
		{
			desc:     "duplicate ids",
			data:     `{"schemaVersion": "v1.0.0", "records": [{"id": "a"}, {"id": "a"}]}`,
			expected: `duplicate experiment id "a"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "queue.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.data), 0644))

			_, err := (&Store{Path: path}).Load()
			var fatal *FatalError
			if assert.True(t, errors.As(err, &fatal)) {
				assert.Equal(t, path, fatal.Path)
				assert.Contains(t, err.Error(), tc.expected)
			}
		})
	}
}

func TestProgressETA(t *testing.T) {
	p := NewProgress(nil, 0)
	p.Begin(4)
	assert.Equal(t, time.Duration(0), p.ETA(3))

	start := time.Date(2021, 3, 14, 15, 9, 0, 0, time.UTC)
	for i, d := range []time.Duration{time.Minute, 3 * time.Minute} {
		end := start.Add(d)
		p.Finished(i+1, &experiment.Record{ID: "x", Status: experiment.StatusCompleted, StartTime: &start, EndTime: &end}, 0)
	}
	assert.Equal(t, 4*time.Minute, p.ETA(2))
}
