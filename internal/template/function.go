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
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/gramlabs/trialmatrix/internal/compose"
	"github.com/spf13/cast"
)

// FuncMap returns the functions used for template evaluation
func FuncMap() template.FuncMap {
	f := sprig.TxtFuncMap()
	delete(f, "env")
	delete(f, "expandenv")

	extra := template.FuncMap{
		"configValue": configValue,
		"shquote":     shquote,
	}

	for k, v := range extra {
		f[k] = v
	}

	return f
}

// configValue returns the value at a dotted path of a configuration, or nil
func configValue(path string, cfg map[string]interface{}) interface{} {
	v, _ := compose.Get(cfg, path)
	return v
}

// shquote single quotes a value so it survives splitting into arguments
func shquote(v interface{}) string {
	return "'" + strings.ReplaceAll(cast.ToString(v), "'", `'"'"'`) + "'"
}
