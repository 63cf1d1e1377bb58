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

package compose

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// ConfigInvalid is returned when a composed configuration fails validation.
type ConfigInvalid struct {
	ExperimentID string
	Reasons      []error
}

func (e *ConfigInvalid) Error() string {
	msg := "invalid configuration"
	if e.ExperimentID != "" {
		msg += " for " + e.ExperimentID
	}
	if agg := utilerrors.NewAggregate(e.Reasons); agg != nil {
		msg += ": " + agg.Error()
	}
	return msg
}

// Unwrap returns the aggregated reasons.
func (e *ConfigInvalid) Unwrap() error {
	return utilerrors.NewAggregate(e.Reasons)
}

type bound struct {
	path     string
	min, max float64
	integer  bool
}

var bounds = []bound{
	{path: PathBatchSize, min: 1, max: 512, integer: true},
	{path: PathImageSize, min: 32, max: 1024, integer: true},
	{path: PathLearningRate, min: 1e-6, max: 1.0},
	{path: PathPatience, min: 1, max: -1, integer: true},
}

// Validate checks the ranges of the canonical parameters of a configuration.
// Parameters which are absent are not checked. The model must appear in the
// known model list when the configuration carries one.
func Validate(cfg map[string]interface{}, modelID string) error {
	var reasons []error

	for _, b := range bounds {
		v, ok := Get(cfg, b.path)
		if !ok {
			continue
		}
		if err := b.check(v); err != nil {
			reasons = append(reasons, err)
		}
	}

	if known, ok := Get(cfg, PathKnownModels); ok {
		models, err := cast.ToStringSliceE(known)
		if err != nil {
			reasons = append(reasons, fmt.Errorf("%s must be a list of model names", PathKnownModels))
		} else {
			name, _ := Get(cfg, PathModelName)
			for _, m := range uniqueNonEmpty(modelID, cast.ToString(name)) {
				if !contains(models, m) {
					reasons = append(reasons, fmt.Errorf("model %q is not one of the known models [%s]", m, strings.Join(models, ", ")))
				}
			}
		}
	}

	if len(reasons) > 0 {
		return &ConfigInvalid{Reasons: reasons}
	}
	return nil
}

func (b bound) check(v interface{}) error {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return fmt.Errorf("%s must be a number, got %v", b.path, v)
	}
	if b.integer && f != float64(int64(f)) {
		return fmt.Errorf("%s must be an integer, got %v", b.path, v)
	}
	if f < b.min {
		return fmt.Errorf("%s must be at least %v, got %v", b.path, b.min, v)
	}
	if b.max >= 0 && f > b.max {
		return fmt.Errorf("%s must be at most %v, got %v", b.path, b.max, v)
	}
	return nil
}

func uniqueNonEmpty(values ...string) []string {
	var result []string
	for _, v := range values {
		if v != "" && !contains(result, v) {
			result = append(result, v)
		}
	}
	return result
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
