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
	"sort"
	"strings"
)

// aliases maps the short parameter names used in option patches to their canonical paths
var aliases = map[string]string{
	"batch_size":      PathBatchSize,
	"num_workers":     PathNumWorkers,
	"mixed_precision": PathMixedPrecision,
	"pin_memory":      PathPinMemory,
	"epochs":          PathEpochs,
	"patience":        PathPatience,
	"min_delta":       PathMinDelta,
	"lr":              PathLearningRate,
	"learning_rate":   PathLearningRate,
	"image_size":      PathImageSize,
}

// Canonical returns the canonical path for a patch key. Dotted paths are returned unchanged.
func Canonical(path string) string {
	if p, ok := aliases[path]; ok {
		return p
	}
	return path
}

// Get returns the value at a dotted path.
func Get(cfg map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = cfg
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores a value at a dotted path, creating intermediate mappings as needed.
func Set(cfg map[string]interface{}, path string, value interface{}) error {
	if path == "" {
		return fmt.Errorf("empty configuration path")
	}

	keys := strings.Split(path, ".")
	m := cfg
	for i, key := range keys[:len(keys)-1] {
		next, ok := m[key]
		if !ok || next == nil {
			child := make(map[string]interface{})
			m[key] = child
			m = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s is not a mapping", strings.Join(keys[:i+1], "."))
		}
		m = child
	}
	m[keys[len(keys)-1]] = value
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
