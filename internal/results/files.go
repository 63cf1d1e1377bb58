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
	"fmt"
	"os"

	"github.com/gramlabs/trialmatrix/internal/experiment"
)

// SidecarSource reads the JSON file the trainer writes next to its submission.
type SidecarSource struct {
	Layout experiment.Layout
	Keys   KeyPaths
}

func (s *SidecarSource) Name() experiment.Source { return experiment.SourceSidecar }

func (s *SidecarSource) Fetch(_ context.Context, experimentID string) (*experiment.Result, error) {
	keys := s.Keys
	if keys.F1 == nil {
		keys = SidecarKeys
	}
	return readJSON(s.Layout.SidecarPath(experimentID), keys)
}

// CheckpointSource reads the metadata stored with the trainer checkpoints.
type CheckpointSource struct {
	Layout experiment.Layout
	Keys   KeyPaths
}

func (s *CheckpointSource) Name() experiment.Source { return experiment.SourceCheckpoint }

func (s *CheckpointSource) Fetch(_ context.Context, experimentID string) (*experiment.Result, error) {
	keys := s.Keys
	if keys.F1 == nil {
		keys = CheckpointKeys
	}
	return readJSON(s.Layout.CheckpointMetadataPath(experimentID), keys)
}

func readJSON(filename string, keys KeyPaths) (*experiment.Result, error) {
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, err
	}

	var data interface{}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", filename, err)
	}
	return extract(data, keys)
}
