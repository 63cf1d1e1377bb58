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
	"io"
	"os"

	"k8s.io/apimachinery/pkg/util/yaml"
)

// LoadTemplate reads a base configuration template from a YAML or JSON file.
func LoadTemplate(filename string) (map[string]interface{}, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tmpl, err := DecodeTemplate(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read base template %s: %w", filename, err)
	}
	return tmpl, nil
}

// DecodeTemplate reads a base configuration template.
func DecodeTemplate(r io.Reader) (map[string]interface{}, error) {
	tmpl := make(map[string]interface{})
	if err := yaml.NewYAMLOrJSONDecoder(r, 4096).Decode(&tmpl); err != nil && err != io.EOF {
		return nil, err
	}
	return tmpl, nil
}
