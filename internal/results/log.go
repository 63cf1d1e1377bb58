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

package results

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/gramlabs/trialmatrix/internal/experiment"
)

var (
	f1Pattern       = regexp.MustCompile(`(?i)(val_f1|validation_f1|f1[-_\s]*score)\s*[:=]\s*([0-9.]+)`)
	accuracyPattern = regexp.MustCompile(`(?i)(val_acc|validation_acc|accuracy)\s*[:=]\s*([0-9.]+)`)
	epochPattern    = regexp.MustCompile(`(?i)(epoch)\s*[:=]\s*([0-9]+)`)
)

// LogSource scans the trainer output for metric lines, the last match of each metric wins.
type LogSource struct {
	Layout experiment.Layout
}

func (s *LogSource) Name() experiment.Source { return experiment.SourceLog }

func (s *LogSource) Fetch(_ context.Context, experimentID string) (*experiment.Result, error) {
	f, err := os.Open(s.Layout.LogPath(experimentID))
	if os.IsNotExist(err) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ScanLog(f)
}

// ScanLog extracts the last reported metrics from trainer output.
func ScanLog(r io.Reader) (*experiment.Result, error) {
	result := &experiment.Result{}

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if f, ok := lastFloat(f1Pattern, line); ok {
				result.F1Macro = &f
			}
			if f, ok := lastFloat(accuracyPattern, line); ok {
				result.Accuracy = &f
			}
			if f, ok := lastFloat(epochPattern, line); ok {
				e := int(f)
				result.EpochsRun = &e
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if result.F1Macro == nil {
		return nil, ErrNoResult
	}
	return result, nil
}

// lastFloat returns the last parsable value captured on a line
func lastFloat(re *regexp.Regexp, line string) (float64, bool) {
	matches := re.FindAllStringSubmatch(line, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if f, err := strconv.ParseFloat(matches[i][2], 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
