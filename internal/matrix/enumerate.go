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
	"regexp"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// IDTimeFormat is the layout of the creation timestamp suffix of experiment identifiers.
const IDTimeFormat = "0601021504"

// Filters restrict the enumeration. All filters are combined conjunctively;
// zero values do not filter.
type Filters struct {
	// Models restricts the enumeration to the listed model identifiers
	Models []string
	// Categories restricts the enumeration to the listed category names
	Categories []string
	// MaxPriority keeps only the options with a tier less than or equal to this value
	MaxPriority int
	// Limit caps the number of combinations
	Limit int
}

// Combination is a single model and category option pair.
type Combination struct {
	ID     string
	Model  *ModelEntry
	Option *Option
}

var nonSlug = regexp.MustCompile(`[^a-z0-9-]+`)

// Slug returns the identifier friendly form of a name.
func Slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// ExperimentID returns the identifier of a combination created at the supplied time.
func ExperimentID(modelID, category, option string, created time.Time) string {
	return strings.Join([]string{Slug(modelID), Slug(category), Slug(option), created.Format(IDTimeFormat)}, "__")
}

// Enumerate produces the combinations of the matrix: enabled models in
// declaration order, enabled categories in declaration order, then options in
// declaration order. Every identifier shares the same creation time.
func Enumerate(spec *Spec, filters Filters, created time.Time) []Combination {
	models := sets.NewString(filters.Models...)
	categories := sets.NewString(filters.Categories...)

	var combos []Combination
	for i := range spec.Models {
		m := &spec.Models[i]
		if !m.IsEnabled() || (models.Len() > 0 && !models.Has(m.ModelID)) {
			continue
		}

		for j := range spec.Categories {
			c := &spec.Categories[j]
			if !c.IsEnabled() || (categories.Len() > 0 && !categories.Has(c.Name)) {
				continue
			}

			for k := range c.Options {
				o := &c.Options[k]
				if filters.MaxPriority > 0 && o.Tier() > filters.MaxPriority {
					continue
				}

				if filters.Limit > 0 && len(combos) >= filters.Limit {
					return combos
				}

				combos = append(combos, Combination{
					ID:     ExperimentID(m.ModelID, c.Name, o.Name, created),
					Model:  m,
					Option: o,
				})
			}
		}
	}
	return combos
}

// UnknownNames returns the filter values which do not match anything in the matrix.
func UnknownNames(spec *Spec, filters Filters) []string {
	models := sets.NewString()
	for i := range spec.Models {
		models.Insert(spec.Models[i].ModelID)
	}
	categories := sets.NewString()
	for i := range spec.Categories {
		categories.Insert(spec.Categories[i].Name)
	}

	var unknown []string
	for _, m := range sets.NewString(filters.Models...).Difference(models).List() {
		unknown = append(unknown, fmt.Sprintf("model %q", m))
	}
	for _, c := range sets.NewString(filters.Categories...).Difference(categories).List() {
		unknown = append(unknown, fmt.Sprintf("category %q", c))
	}
	return unknown
}
