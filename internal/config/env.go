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
	"fmt"
	"os"
	"strconv"
)

// envLoader adds environment variable overrides, explicitly set overrides are kept
func envLoader(s *Settings) error {
	o := &s.Overrides
	defaultString(&o.ResultsDir, os.Getenv("RESULTS_DIR"))
	defaultString(&o.TempPrefix, os.Getenv("TEMP_PREFIX"))
	defaultString(&o.TrackerProject, os.Getenv("TRACKER_PROJECT"))
	defaultString(&o.TrackerAddress, os.Getenv("TRACKER_API_URL"))
	defaultString(&o.TrackerAPIKey, os.Getenv("TRACKER_API_KEY"))

	if v := os.Getenv("BASE_SEED"); v != "" && o.BaseSeed == nil {
		seed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BASE_SEED: %w", err)
		}
		o.BaseSeed = &seed
	}

	if v := os.Getenv("EXPERIMENT_TIMEOUT_S"); v != "" && o.TimeoutS == 0 {
		timeout, err := strconv.Atoi(v)
		if err != nil || timeout <= 0 {
			return fmt.Errorf("invalid EXPERIMENT_TIMEOUT_S: %q", v)
		}
		o.TimeoutS = timeout
	}

	return nil
}
