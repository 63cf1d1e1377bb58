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

package commander

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gramlabs/trialmatrix/internal/experiment"
	"k8s.io/apimachinery/pkg/util/duration"
)

// RecordsMeta formats experiment records
type RecordsMeta struct{}

// ExtractList returns the records of a record slice
func (RecordsMeta) ExtractList(obj interface{}) ([]interface{}, error) {
	switch o := obj.(type) {
	case []experiment.Record:
		l := make([]interface{}, len(o))
		for i := range o {
			l[i] = &o[i]
		}
		return l, nil
	case *experiment.Record:
		return []interface{}{o}, nil
	}
	return nil, fmt.Errorf("unable to print %T as experiment records", obj)
}

// Columns returns the record columns, the wide format includes the matrix coordinates and timings
func (RecordsMeta) Columns(_ interface{}, outputFormat string) []string {
	switch outputFormat {
	case "wide", "csv":
		return []string{"name", "model", "category", "option", "status", "f1", "accuracy", "epochs", "duration", "source"}
	}
	return []string{"name", "status", "f1", "source"}
}

// ExtractValue returns a single record column
func (RecordsMeta) ExtractValue(obj interface{}, column string) (string, error) {
	r, ok := obj.(*experiment.Record)
	if !ok {
		return "", fmt.Errorf("expected an experiment record, got %T", obj)
	}

	result := r.Result
	if result == nil {
		result = &experiment.Result{}
	}

	switch column {
	case "name":
		return r.ID, nil
	case "model":
		return r.ModelID, nil
	case "category":
		return r.Category, nil
	case "option":
		return r.OptionName, nil
	case "status":
		return string(r.Status), nil
	case "f1":
		return FormatFloat(result.F1Macro), nil
	case "accuracy":
		return FormatFloat(result.Accuracy), nil
	case "epochs":
		if result.EpochsRun == nil {
			return "", nil
		}
		return strconv.Itoa(*result.EpochsRun), nil
	case "duration":
		if d := r.WallTime(); d > 0 {
			return duration.HumanDuration(d), nil
		}
		return "", nil
	case "source":
		return string(result.Source), nil
	}
	return "", fmt.Errorf("unable to extract: %s", column)
}

// Header formats all headers in upper case
func (RecordsMeta) Header(_ string, column string) string {
	return strings.ToUpper(column)
}

// FormatFloat formats an optional score, absent scores are blank
func FormatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 4, 64)
}
