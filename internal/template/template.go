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

package template

import (
	"bytes"
	"text/template"
)

// InvocationData is available when rendering a trainer invocation
type InvocationData struct {
	// ExperimentID is the stable identifier of the experiment
	ExperimentID string
	// ModelID is the model of the experiment
	ModelID string
	// Category is the hyperparameter axis of the experiment
	Category string
	// Option is the option along the category axis
	Option string
	// Seed is the per-experiment seed
	Seed int
	// ScratchRoot is the private scratch directory of the experiment
	ScratchRoot string
	// OutputDir is where the trainer may write intermediate outputs
	OutputDir string
	// Config is the composed configuration
	Config map[string]interface{}
}

// Engine is used to render Go text templates
type Engine struct {
	FuncMap template.FuncMap
}

// New creates a new template engine
func New() *Engine {
	return &Engine{
		FuncMap: FuncMap(),
	}
}

// RenderInvocation returns the trainer command line for an experiment
func (e *Engine) RenderInvocation(invocation string, data *InvocationData) (string, error) {
	b, err := e.render(data.ExperimentID, invocation, data)
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func (e *Engine) render(name, text string, data interface{}) (*bytes.Buffer, error) {
	tmpl, err := template.New(name).Funcs(e.FuncMap).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}

	b := &bytes.Buffer{}
	if err = tmpl.Execute(b, data); err != nil {
		return nil, err
	}
	return b, nil
}
