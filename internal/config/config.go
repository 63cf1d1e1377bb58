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

// Package config resolves the runtime settings shared by the command line tools.
package config

import (
	"time"

	"github.com/gramlabs/trialmatrix/internal/matrix"
	"github.com/gramlabs/trialmatrix/internal/results"
)

// Loader is used to populate the settings
type Loader func(s *Settings) error

// Overrides are values which take precedence over everything else, typically flags and environment variables.
type Overrides struct {
	ResultsDir     string
	TempPrefix     string
	BaseSeed       *int
	TimeoutS       int
	TrackerProject string
	TrackerAddress string
	TrackerAPIKey  string
}

// Tracker are the settings of the experiment-tracker API.
type Tracker struct {
	// Project enables the tracker API result source when non-empty
	Project string
	Address string
	APIKey  string
}

// Settings are the resolved runtime settings.
type Settings struct {
	// MatrixFile is the path to the experiment matrix; it is optional for commands which only read results
	MatrixFile string
	// Overrides are applied after the environment and the matrix
	Overrides Overrides

	ResultsDir  string
	TempPrefix  string
	BaseSeed    int
	Timeout     time.Duration
	GracePeriod time.Duration
	Tracker     Tracker

	// Matrix is the loaded experiment matrix, if a matrix file is available
	Matrix *matrix.Spec

	baseSeedSet bool
}

// Load will populate the settings. Extra loaders run after the environment
// loader, the matrix loader and the defaults fill in anything still missing.
func (s *Settings) Load(extra ...Loader) error {
	var loaders []Loader
	loaders = append(loaders, envLoader)
	loaders = append(loaders, extra...)
	loaders = append(loaders, matrixLoader, overridesLoader, defaultLoader)
	for i := range loaders {
		if err := loaders[i](s); err != nil {
			return err
		}
	}
	return nil
}

// TrackerConfig returns the configuration of the tracker API client.
func (s *Settings) TrackerConfig() results.TrackerConfig {
	return results.TrackerConfig{
		Address: s.Tracker.Address,
		Project: s.Tracker.Project,
		APIKey:  s.Tracker.APIKey,
	}
}

// overridesLoader applies the explicit overrides
func overridesLoader(s *Settings) error {
	o := &s.Overrides
	overrideString(&s.ResultsDir, o.ResultsDir)
	overrideString(&s.TempPrefix, o.TempPrefix)
	if o.BaseSeed != nil {
		s.BaseSeed = *o.BaseSeed
		s.baseSeedSet = true
	}
	if o.TimeoutS > 0 {
		s.Timeout = time.Duration(o.TimeoutS) * time.Second
	}
	overrideString(&s.Tracker.Project, o.TrackerProject)
	overrideString(&s.Tracker.Address, o.TrackerAddress)
	overrideString(&s.Tracker.APIKey, o.TrackerAPIKey)
	return nil
}

// overrideString overwrites s1 with a non-empty s2
func overrideString(s1 *string, s2 string) {
	if s2 != "" {
		*s1 = s2
	}
}
