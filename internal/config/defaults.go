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

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gramlabs/trialmatrix/internal/results"
	"github.com/gramlabs/trialmatrix/internal/runner"
)

const (
	// DefaultMatrixFile is the matrix used when none is specified
	DefaultMatrixFile = "experiment_matrix.yaml"
	// DefaultResultsDir is the results directory used when neither the matrix nor the environment name one
	DefaultResultsDir = "results"
	// DefaultBaseSeed is the base of the per-experiment seeds
	DefaultBaseSeed = 42
	// DefaultTimeoutS is the per-experiment wall-clock limit used without a matrix
	DefaultTimeoutS = 14400
)

// The default loader must only fill in values which are still empty

func defaultLoader(s *Settings) error {
	dir := "."
	if s.Matrix != nil && s.Matrix.Dir != "" {
		dir = s.Matrix.Dir
	}

	defaultString(&s.ResultsDir, filepath.Join(dir, DefaultResultsDir))
	defaultString(&s.TempPrefix, filepath.Join(os.TempDir(), "trialmatrix"))
	defaultString(&s.Tracker.Address, results.DefaultTrackerURL)

	if !s.baseSeedSet {
		s.BaseSeed = DefaultBaseSeed
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeoutS * time.Second
	}
	if s.GracePeriod == 0 {
		s.GracePeriod = runner.DefaultGracePeriod
	}
	return nil
}

// defaultString overwrites an empty s1 with the value of s2
func defaultString(s1 *string, s2 string) {
	if *s1 == "" {
		*s1 = s2
	}
}
