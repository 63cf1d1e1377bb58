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
	"fmt"
	"time"

	"github.com/gramlabs/trialmatrix/internal/compose"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Validate checks the matrix for missing fields and identifier collisions.
func (s *Spec) Validate() error {
	var errs []error

	if len(s.Models) == 0 {
		errs = append(errs, fmt.Errorf("at least one model is required"))
	}

	modelIDs := sets.NewString()
	for i := range s.Models {
		m := &s.Models[i]
		switch {
		case m.ModelID == "":
			errs = append(errs, fmt.Errorf("models[%d]: model_id is required", i))
		case modelIDs.Has(m.ModelID):
			errs = append(errs, fmt.Errorf("models[%d]: duplicate model_id %q", i, m.ModelID))
		}
		modelIDs.Insert(m.ModelID)

		if m.IsEnabled() && m.TrainerInvocation == "" {
			errs = append(errs, fmt.Errorf("models[%d]: trainer_invocation is required", i))
		}
	}

	for i := range s.Categories {
		c := &s.Categories[i]
		if Slug(c.Name) == "" {
			errs = append(errs, fmt.Errorf("experiment_categories: invalid category name %q", c.Name))
		}
		for j := range c.Options {
			if Slug(c.Options[j].Name) == "" {
				errs = append(errs, fmt.Errorf("experiment_categories.%s.options[%d]: name is required", c.Name, j))
			}
		}
	}

	if _, _, err := compose.CapsFor(s.Execution.ExperimentType); err != nil {
		errs = append(errs, fmt.Errorf("execution.experiment_type: %w", err))
	}

	// Identifiers only differ by the slugs, the creation time is shared
	ids := sets.NewString()
	for _, c := range Enumerate(s, Filters{}, time.Time{}) {
		if ids.Has(c.ID) {
			errs = append(errs, fmt.Errorf("duplicate experiment id %q (%s/%s/%s)", c.ID, c.Model.ModelID, c.Option.Category, c.Option.Name))
		}
		ids.Insert(c.ID)
	}

	return utilerrors.NewAggregate(errs)
}
