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

package track

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gramlabs/trialmatrix/cli/internal/commander"
	"github.com/gramlabs/trialmatrix/internal/tracker"
)

type submissionsMeta struct{}

func (submissionsMeta) ExtractList(obj interface{}) ([]interface{}, error) {
	switch o := obj.(type) {
	case []tracker.Submission:
		l := make([]interface{}, len(o))
		for i := range o {
			l[i] = &o[i]
		}
		return l, nil
	case *tracker.Submission:
		return []interface{}{o}, nil
	}
	return nil, fmt.Errorf("unable to print %T as submissions", obj)
}

func (submissionsMeta) Columns(_ interface{}, outputFormat string) []string {
	switch outputFormat {
	case "wide":
		return []string{"name", "local_f1", "server_public", "rank_public", "server_private", "rank_private", "overfitting_tier", "ensemble_recommended", "submission_date", "notes"}
	case "csv":
		return tracker.Columns
	}
	return []string{"name", "local_f1", "server_public", "overfitting_tier", "ensemble_recommended"}
}

func (submissionsMeta) ExtractValue(obj interface{}, column string) (string, error) {
	s, ok := obj.(*tracker.Submission)
	if !ok {
		return "", fmt.Errorf("expected a submission, got %T", obj)
	}

	switch column {
	case "name", "experiment_id":
		return s.ExperimentID, nil
	case "local_f1":
		return commander.FormatFloat(s.LocalF1), nil
	case "submitted":
		return strconv.FormatBool(s.Submitted), nil
	case "submission_date":
		if s.SubmissionDate == nil {
			return "", nil
		}
		return s.SubmissionDate.Format(time.RFC3339), nil
	case "server_public":
		return commander.FormatFloat(s.ServerPublic), nil
	case "server_private":
		return commander.FormatFloat(s.ServerPrivate), nil
	case "rank_public":
		return formatRank(s.RankPublic), nil
	case "rank_private":
		return formatRank(s.RankPrivate), nil
	case "notes":
		return s.Notes, nil
	case "overfitting_tier":
		return string(s.OverfittingTier), nil
	case "ensemble_recommended":
		return strconv.FormatBool(s.EnsembleRecommended), nil
	}
	return "", fmt.Errorf("unable to extract: %s", column)
}

func (submissionsMeta) Header(outputFormat string, column string) string {
	if outputFormat == "csv" {
		return column
	}
	switch column {
	case "local_f1":
		return "LOCAL"
	case "server_public":
		return "PUBLIC"
	case "server_private":
		return "PRIVATE"
	case "rank_public":
		return "RANK"
	case "overfitting_tier":
		return "TIER"
	case "ensemble_recommended":
		return "ENSEMBLE"
	}
	return strings.ToUpper(strings.ReplaceAll(column, "_", " "))
}

func formatRank(r *int) string {
	if r == nil {
		return ""
	}
	return strconv.Itoa(*r)
}

type correlationMeta struct{}

func (correlationMeta) ExtractList(obj interface{}) ([]interface{}, error) {
	if c, ok := obj.(*tracker.Correlation); ok {
		return []interface{}{c}, nil
	}
	return nil, fmt.Errorf("unable to print %T as a correlation", obj)
}

func (correlationMeta) Columns(interface{}, string) []string {
	return []string{"samples", "pearson", "mean_gap", "low", "medium", "high"}
}

func (correlationMeta) ExtractValue(obj interface{}, column string) (string, error) {
	c, ok := obj.(*tracker.Correlation)
	if !ok {
		return "", fmt.Errorf("expected a correlation, got %T", obj)
	}

	switch column {
	case "samples":
		return strconv.Itoa(c.Samples), nil
	case "pearson":
		if c.Pearson == nil {
			return "n/a", nil
		}
		return commander.FormatFloat(c.Pearson), nil
	case "mean_gap":
		return commander.FormatFloat(c.MeanGap), nil
	case "low", "medium", "high":
		return strconv.Itoa(c.Tiers[tracker.Tier(column)]), nil
	}
	return "", fmt.Errorf("unable to extract: %s", column)
}

func (correlationMeta) Header(outputFormat string, column string) string {
	if outputFormat == "csv" {
		return column
	}
	return strings.ToUpper(strings.ReplaceAll(column, "_", " "))
}
