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

package matrix

import (
	"errors"
	"fmt"

	"github.com/gramlabs/trialmatrix/internal/compose"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/platform"
)

// ComposeFunc produces the configuration of a combination. Errors other than
// a *compose.ConfigInvalid abort the build.
type ComposeFunc func(c Combination) (map[string]interface{}, error)

// Composer composes combinations against the base templates named by the matrix.
type Composer struct {
	Spec    *Spec
	Profile platform.Profile

	templates map[string]map[string]interface{}
}

// NewComposer returns a composer for the supplied matrix and platform.
func NewComposer(spec *Spec, profile platform.Profile) *Composer {
	return &Composer{Spec: spec, Profile: profile, templates: make(map[string]map[string]interface{})}
}

// Compose resolves the configuration of a single combination.
func (c *Composer) Compose(combo Combination) (map[string]interface{}, error) {
	base, err := c.template(c.Spec.BaseConfig(combo.Model))
	if err != nil {
		return nil, err
	}

	return compose.Compose(base, c.Profile, compose.Request{
		ExperimentID:   combo.ID,
		ModelID:        combo.Model.ModelID,
		ExperimentType: c.Spec.Execution.ExperimentType,
		Patches:        combo.Option.Patches,
	})
}

// template returns the base template at the supplied path, an empty path is an empty template
func (c *Composer) template(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	if t, ok := c.templates[path]; ok {
		return t, nil
	}
	t, err := compose.LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	c.templates[path] = t
	return t, nil
}

// Build produces the pending experiment records of the supplied combinations.
// A combination which fails composition is still recorded, carrying the
// validation failure as its error excerpt, so the driver can fail it without
// spawning a trainer.
func Build(combos []Combination, composeFunc ComposeFunc) ([]experiment.Record, error) {
	records := make([]experiment.Record, 0, len(combos))
	for _, c := range combos {
		r := experiment.Record{
			ID:         c.ID,
			ModelID:    c.Model.ModelID,
			Category:   c.Option.Category,
			OptionName: c.Option.Name,
			Invocation: c.Model.TrainerInvocation,
			Status:     experiment.StatusPending,
		}

		cfg, err := composeFunc(c)
		if err != nil {
			invalid := &compose.ConfigInvalid{}
			if !errors.As(err, &invalid) {
				return nil, fmt.Errorf("unable to compose %s: %w", c.ID, err)
			}
			r.ErrorExcerpt = invalid.Error()
		}
		r.Config = cfg

		records = append(records, r)
	}
	return records, nil
}
