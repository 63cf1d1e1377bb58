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

// Package compose resolves a training configuration from a base template,
// the platform profile, the experiment type and a set of option patches.
package compose

import (
	"fmt"

	"github.com/gramlabs/trialmatrix/internal/platform"
	"github.com/mitchellh/copystructure"
)

// SchemaVersion is stamped into every composed configuration.
const SchemaVersion = "1"

// DefaultBaseBatchSize is the batch size the platform recommendation is derived from.
const DefaultBaseBatchSize = 32

// Canonical configuration paths.
const (
	PathBatchSize      = "training.batch_size"
	PathNumWorkers     = "training.num_workers"
	PathMixedPrecision = "training.mixed_precision"
	PathPinMemory      = "training.pin_memory"
	PathEpochs         = "training.epochs"
	PathPatience       = "training.early_stopping.patience"
	PathMinDelta       = "training.early_stopping.min_delta"
	PathLearningRate   = "optimizer.lr"
	PathImageSize      = "data.image_size"
	PathModelName      = "model.name"
	PathKnownModels    = "known_models"
	PathAugmentation   = "augmentation.level"

	PathExperimentID  = "experiment_id"
	PathAccelerator   = "accelerator"
	PathSchemaVersion = "config_schema_version"
)

// Caps are the training limits imposed by an experiment type.
type Caps struct {
	Epochs   int
	Patience int
	MinDelta float64
}

var experimentTypes = map[string]Caps{
	"quick":    {Epochs: 50, Patience: 10, MinDelta: 1e-4},
	"targeted": {Epochs: 200, Patience: 15, MinDelta: 1e-5},
	"full":     {Epochs: 1000, Patience: 20, MinDelta: 1e-6},
}

// CapsFor returns the caps of an experiment type. The empty type imposes no caps.
func CapsFor(experimentType string) (Caps, bool, error) {
	if experimentType == "" {
		return Caps{}, false, nil
	}
	c, ok := experimentTypes[experimentType]
	if !ok {
		return Caps{}, false, fmt.Errorf("unknown experiment type %q", experimentType)
	}
	return c, true, nil
}

// Request describes a single composition.
type Request struct {
	// ExperimentID is stamped into the result
	ExperimentID string
	// ModelID is the model the experiment trains, used when the template does not name one
	ModelID string
	// ExperimentType selects the caps table entry
	ExperimentType string
	// Patches are applied last, keyed by dotted configuration path
	Patches map[string]interface{}
}

// Compose produces a fully resolved configuration. The base template is never modified.
//
// Precedence, lowest to highest: base template, platform defaults (only where
// the base does not set a value), experiment type caps, option patches.
func Compose(base map[string]interface{}, profile platform.Profile, req Request) (map[string]interface{}, error) {
	cfg, err := deepCopy(base)
	if err != nil {
		return nil, err
	}

	caps, hasCaps, err := CapsFor(req.ExperimentType)
	if err != nil {
		return nil, &ConfigInvalid{ExperimentID: req.ExperimentID, Reasons: []error{err}}
	}

	// Platform defaults
	defaults := []struct {
		path  string
		value interface{}
	}{
		{PathBatchSize, profile.BatchSize(DefaultBaseBatchSize)},
		{PathNumWorkers, profile.Workers()},
		{PathMixedPrecision, profile.MixedPrecision()},
		{PathPinMemory, profile.PinMemory()},
		{PathModelName, req.ModelID},
	}
	for _, d := range defaults {
		if _, ok := Get(cfg, d.path); ok || d.value == "" {
			continue
		}
		if err := Set(cfg, d.path, d.value); err != nil {
			return nil, err
		}
	}

	// Experiment type caps
	if hasCaps {
		if err := setAll(cfg, PathEpochs, caps.Epochs, PathPatience, caps.Patience, PathMinDelta, caps.MinDelta); err != nil {
			return nil, err
		}
	}

	// Option patches
	for _, path := range sortedKeys(req.Patches) {
		v, err := copystructure.Copy(req.Patches[path])
		if err != nil {
			return nil, err
		}
		if err := Set(cfg, Canonical(path), v); err != nil {
			return nil, &ConfigInvalid{ExperimentID: req.ExperimentID, Reasons: []error{fmt.Errorf("unable to apply patch %q: %w", path, err)}}
		}
	}

	// Stamps
	if err := setAll(cfg,
		PathExperimentID, req.ExperimentID,
		PathAccelerator, string(profile.Accelerator),
		PathSchemaVersion, SchemaVersion); err != nil {
		return nil, err
	}

	if err := Validate(cfg, req.ModelID); err != nil {
		if ci, ok := err.(*ConfigInvalid); ok {
			ci.ExperimentID = req.ExperimentID
		}
		return nil, err
	}

	return cfg, nil
}

func deepCopy(base map[string]interface{}) (map[string]interface{}, error) {
	if base == nil {
		return make(map[string]interface{}), nil
	}
	c, err := copystructure.Copy(base)
	if err != nil {
		return nil, fmt.Errorf("unable to copy base template: %w", err)
	}
	return c.(map[string]interface{}), nil
}

func setAll(cfg map[string]interface{}, kv ...interface{}) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if err := Set(cfg, kv[i].(string), kv[i+1]); err != nil {
			return err
		}
	}
	return nil
}
