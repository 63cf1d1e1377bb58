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

package experiment

import (
	"fmt"
	"strings"
	"time"
)

// Summarize returns the one line status summary of a record.
func Summarize(r *Record) string {
	summary := []string{r.ID, string(r.Status)}

	if v := values(r.Result); v != "" {
		summary = append(summary, v)
	}

	if d := r.WallTime(); d > 0 {
		summary = append(summary, "("+d.Round(time.Second).String()+")")
	}

	switch r.Status {
	case StatusFailed, StatusTimeout:
		if line := LastLine(r.ErrorExcerpt); line != "" {
			summary = append(summary, "- "+line)
		}
	}

	return strings.Join(summary, " ")
}

func values(r *Result) string {
	if r == nil {
		return ""
	}

	var values []string
	if r.F1Macro != nil {
		values = append(values, fmt.Sprintf("f1=%.4f", *r.F1Macro))
	}
	if r.Accuracy != nil {
		values = append(values, fmt.Sprintf("acc=%.4f", *r.Accuracy))
	}
	if r.EpochsRun != nil {
		values = append(values, fmt.Sprintf("epochs=%d", *r.EpochsRun))
	}
	values = append(values, "source="+string(r.Source))
	return strings.Join(values, ", ")
}

// LastLine returns the last non-blank line of some output.
func LastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n\t "), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
