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

// Package matrix loads the declarative experiment matrix and enumerates the
// cartesian product of models and category options in declaration order.
package matrix

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultTimeoutSeconds is used when neither the execution block nor the system block sets a timeout.
const DefaultTimeoutSeconds = 14400

// Spec is the declarative experiment matrix.
type Spec struct {
	System     System       `yaml:"system"`
	Execution  Execution    `yaml:"execution"`
	Models     []ModelEntry `yaml:"models"`
	Categories Categories   `yaml:"experiment_categories"`

	// Extra holds the unknown top-level fields
	Extra map[string]interface{} `yaml:",inline"`

	// Dir is the directory relative paths are resolved against
	Dir string `yaml:"-"`
}

// System holds the global settings of the matrix.
type System struct {
	TempDirPrefix string `yaml:"temp_dir_prefix,omitempty"`
	ResultsDir    string `yaml:"results_dir,omitempty"`
	BaseConfig    string `yaml:"base_config,omitempty"`
	TimeoutS      int    `yaml:"timeout_s,omitempty"`

	Extra map[string]interface{} `yaml:",inline"`
}

// Execution holds the settings applied to every experiment of a run.
type Execution struct {
	TimeoutS       int    `yaml:"timeout_s,omitempty"`
	ExperimentType string `yaml:"experiment_type,omitempty"`
	BaseSeed       *int   `yaml:"base_seed,omitempty"`
	GracePeriodS   int    `yaml:"grace_period_s,omitempty"`

	Extra map[string]interface{} `yaml:",inline"`
}

// ModelEntry is a single model the matrix trains.
type ModelEntry struct {
	ModelID           string `yaml:"model_id"`
	Enabled           *bool  `yaml:"enabled,omitempty"`
	BaseConfig        string `yaml:"base_config,omitempty"`
	TrainerInvocation string `yaml:"trainer_invocation,omitempty"`
	Description       string `yaml:"description,omitempty"`

	Extra map[string]interface{} `yaml:",inline"`
}

// IsEnabled returns false only if the model was explicitly disabled.
func (m *ModelEntry) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Category is a named axis of hyperparameter variation.
type Category struct {
	Name        string   `yaml:"-"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Options     []Option `yaml:"options"`

	Extra map[string]interface{} `yaml:",inline"`
}

// IsEnabled returns false only if the category was explicitly disabled.
func (c *Category) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DefaultPriority is the tier of options which do not declare one.
const DefaultPriority = 1

// Option is one concrete setting along a category axis.
type Option struct {
	Category    string                 `yaml:"-"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Priority    int                    `yaml:"priority,omitempty"`
	Patches     map[string]interface{} `yaml:"patches,omitempty"`

	Extra map[string]interface{} `yaml:",inline"`
}

// Tier returns the priority tier of the option.
func (o *Option) Tier() int {
	if o.Priority <= 0 {
		return DefaultPriority
	}
	return o.Priority
}

// Categories is the ordered mapping of category names to categories.
type Categories []Category

// UnmarshalYAML decodes the category mapping, keeping the declaration order.
func (c *Categories) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: experiment_categories must be a mapping", value.Line)
	}

	for i := 0; i+1 < len(value.Content); i += 2 {
		var cat Category
		if err := value.Content[i+1].Decode(&cat); err != nil {
			return err
		}
		cat.Name = value.Content[i].Value
		for j := range cat.Options {
			cat.Options[j].Category = cat.Name
		}
		*c = append(*c, cat)
	}
	return nil
}

// MarshalYAML encodes the categories as a mapping in declaration order.
func (c Categories) MarshalYAML() (interface{}, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for i := range c {
		v := &yaml.Node{}
		if err := v.Encode(&c[i]); err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: c[i].Name}, v)
	}
	return n, nil
}

// Get returns the named category.
func (c Categories) Get(name string) (*Category, bool) {
	for i := range c {
		if c[i].Name == name {
			return &c[i], true
		}
	}
	return nil, false
}

// Load reads a matrix from a YAML or JSON file.
func Load(filename string) (*Spec, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("unable to read matrix %s: %w", filename, err)
	}

	spec.Dir, err = filepath.Abs(filepath.Dir(filename))
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// Parse decodes a matrix document.
func Parse(data []byte) (*Spec, error) {
	spec := &Spec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// Marshal encodes the matrix, including any unknown fields.
func (s *Spec) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Resolve returns a path relative to the directory of the matrix.
func (s *Spec) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || s.Dir == "" {
		return path
	}
	return filepath.Join(s.Dir, path)
}

// Timeout returns the per-experiment timeout in seconds.
func (s *Spec) Timeout() int {
	if s.Execution.TimeoutS > 0 {
		return s.Execution.TimeoutS
	}
	if s.System.TimeoutS > 0 {
		return s.System.TimeoutS
	}
	return DefaultTimeoutSeconds
}

// BaseConfig returns the resolved base template path for a model.
func (s *Spec) BaseConfig(m *ModelEntry) string {
	if m.BaseConfig != "" {
		return s.Resolve(m.BaseConfig)
	}
	return s.Resolve(s.System.BaseConfig)
}
