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

package isolation

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestManager(t *testing.T) *Manager {
	m := NewManager(t.TempDir(), 42, zapr.NewLogger(zap.NewNop()))
	m.Policy = ReleasePolicy{GCPasses: 3, ThresholdGB: 0.5, PollInterval: time.Millisecond, Timeout: 50 * time.Millisecond}
	return m
}

func TestSeed(t *testing.T) {
	a := Seed(42, "resnet50__optimizer__adamw__2103141509")
	assert.Equal(t, a, Seed(42, "resnet50__optimizer__adamw__2103141509"))
	assert.GreaterOrEqual(t, a, 42)
	assert.Less(t, a, 42+SeedRange)
	assert.Equal(t, a+1, Seed(43, "resnet50__optimizer__adamw__2103141509"))

	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		seen[Seed(0, "experiment-"+strconv.Itoa(i))] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestLeaseLifecycle(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.Setenv("TRIALMATRIX_TEST_KEEP", "1"))
	defer os.Unsetenv("TRIALMATRIX_TEST_KEEP")
	before := os.Environ()

	l, err := m.Acquire("exp1")
	require.NoError(t, err)
	assert.True(t, l.Active)
	assert.Equal(t, 1, m.Active())
	assert.Equal(t, filepath.Join(m.TempPrefix, "exp1"), l.ScratchRoot)

	for _, d := range []string{DirCUDACache, DirFrameworkHome, DirTelemetry, DirOutputs} {
		assert.DirExists(t, filepath.Join(l.ScratchRoot, d))
	}

	seed := strconv.Itoa(Seed(42, "exp1"))
	assert.Equal(t, "exp1", os.Getenv("EXPERIMENT_ID"))
	assert.Equal(t, seed, os.Getenv("EXPERIMENT_SEED"))
	assert.Equal(t, seed, os.Getenv("PYTHONHASHSEED"))
	assert.Equal(t, "0", os.Getenv("TORCH_DETERMINISTIC"))
	assert.Equal(t, "1", os.Getenv("CUDNN_BENCHMARK"))
	assert.Equal(t, filepath.Join(l.ScratchRoot, DirCUDACache), os.Getenv("CUDA_CACHE_PATH"))
	assert.Equal(t, l.OutputDir(), os.Getenv("EXPERIMENT_OUTPUT_DIR"))

	env := l.Environ()
	assert.Contains(t, env, "EXPERIMENT_ID=exp1")
	assert.Contains(t, env, "TRIALMATRIX_TEST_KEEP=1")

	require.NoError(t, l.Release())
	assert.False(t, l.Active)
	assert.Equal(t, 0, m.Active())
	assert.NoDirExists(t, l.ScratchRoot)
	assert.Equal(t, before, os.Environ())

	// A second release is a no-op
	assert.NoError(t, l.Release())
}

func TestWithReleasesOnError(t *testing.T) {
	m := newTestManager(t)
	before := os.Environ()
	var root string

	boom := errors.New("boom")
	err := m.With("exp1", func(l *Lease) error {
		root = l.ScratchRoot
		require.NoError(t, os.WriteFile(filepath.Join(l.OutputDir(), "model.bin"), []byte("x"), 0644))
		return boom
	})
	assert.Equal(t, boom, err)
	assert.NoDirExists(t, root)
	assert.Equal(t, before, os.Environ())
}

func TestWithReleasesOnPanic(t *testing.T) {
	m := newTestManager(t)
	before := os.Environ()
	var root string

	assert.Panics(t, func() {
		_ = m.With("exp1", func(l *Lease) error {
			root = l.ScratchRoot
			panic("trainer exploded")
		})
	})
	assert.NoDirExists(t, root)
	assert.Equal(t, before, os.Environ())
	assert.Equal(t, 0, m.Active())
}

func TestCollision(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("exp1")
	require.NoError(t, err)
	defer l.Release()

	_, err = m.Acquire("exp1")
	var unavailable *IsolationUnavailable
	assert.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "exp1", unavailable.ExperimentID)

	_, err = m.Acquire("../exp1")
	assert.True(t, errors.As(err, &unavailable))
}

func TestStaleScratchRoot(t *testing.T) {
	m := newTestManager(t)
	stale := filepath.Join(m.TempPrefix, "exp1", DirOutputs, "partial.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))

	core, logs := observer.New(zapcore.InfoLevel)
	m.Log = zapr.NewLogger(zap.New(core))

	err := m.With("exp1", func(l *Lease) error {
		assert.NoFileExists(t, stale)
		assert.DirExists(t, filepath.Join(l.ScratchRoot, DirOutputs))
		return nil
	})
	assert.NoError(t, err)

	entries := logs.FilterMessage("Deleting scratch root left by an earlier run").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, "exp1", entries[0].ContextMap()["experimentID"])
	}

	// A fresh scratch root is not reported
	require.NoError(t, m.With("exp2", func(*Lease) error { return nil }))
	assert.Equal(t, 1, logs.FilterMessage("Deleting scratch root left by an earlier run").Len())
}

func TestReleaseWaitsForMemory(t *testing.T) {
	testCases := []struct {
		desc     string
		readings []float64
		calls    int
	}{
		{desc: "released immediately", readings: []float64{0.1}, calls: 1},
		{desc: "released after polling", readings: []float64{4, 2, 0.2}, calls: 3},
		{desc: "never released", readings: []float64{8}, calls: -1},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			m := newTestManager(t)
			calls := 0
			m.MemoryUsedGB = func() (float64, error) {
				i := calls
				if i >= len(tc.readings) {
					i = len(tc.readings) - 1
				}
				calls++
				r := tc.readings[i]
				return r, nil
			}

			start := time.Now()
			require.NoError(t, m.With("exp1", func(*Lease) error { return nil }))
			if tc.calls > 0 {
				assert.Equal(t, tc.calls, calls)
			} else {
				assert.Greater(t, calls, 1)
				assert.GreaterOrEqual(t, int64(time.Since(start)), int64(m.Policy.Timeout))
			}
		})
	}
}

func TestSplitEnv(t *testing.T) {
	testCases := []struct {
		kv, k, v string
	}{
		{kv: "A=B", k: "A", v: "B"},
		{kv: "A=B=C", k: "A", v: "B=C"},
		{kv: "=C:=C:\\", k: "=C:", v: "C:\\"},
		{kv: "A=", k: "A", v: ""},
		{kv: "A", k: "A", v: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.kv, func(t *testing.T) {
			k, v := splitEnv(tc.kv)
			assert.Equal(t, tc.k, k)
			assert.Equal(t, tc.v, v)
		})
	}
}
