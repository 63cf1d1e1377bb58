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
	"fmt"
	"math"
	"time"

	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/spf13/cast"
	"k8s.io/client-go/util/jsonpath"
)

// KeyPaths lists the JSON path expressions tried for each metric, the first match wins.
type KeyPaths struct {
	F1              []string
	Accuracy        []string
	Epochs          []string
	WallTimeMinutes []string
	WallTimeSeconds []string
}

// SidecarKeys are the keys read from a submission sidecar.
var SidecarKeys = KeyPaths{
	F1:              []string{"{.f1_macro}", "{.val_f1}", "{.metrics.val_f1}"},
	Accuracy:        []string{"{.accuracy}", "{.val_acc}", "{.metrics.val_acc}"},
	Epochs:          []string{"{.epochs_run}", "{.epoch}", "{.metrics.epoch}"},
	WallTimeMinutes: []string{"{.wall_time_minutes}"},
	WallTimeSeconds: []string{"{.training_time}"},
}

// CheckpointKeys are the keys read from the checkpoint metadata.
var CheckpointKeys = KeyPaths{
	F1:              []string{"{.val_f1}"},
	Accuracy:        []string{"{.val_acc}"},
	Epochs:          []string{"{.epoch}"},
	WallTimeSeconds: []string{"{.training_time}"},
}

// TrackerKeys are the keys read from a tracker run.
var TrackerKeys = KeyPaths{
	F1:       []string{"{.summary.val_f1}"},
	Accuracy: []string{"{.summary.val_acc}"},
	Epochs:   []string{"{.summary.epoch}"},
}

// extract evaluates the key paths against some generic JSON data
func extract(data interface{}, keys KeyPaths) (*experiment.Result, error) {
	r := &experiment.Result{}
	var err error

	if r.F1Macro, err = lookupFloat(data, keys.F1); err != nil {
		return nil, err
	}
	if r.Accuracy, err = lookupFloat(data, keys.Accuracy); err != nil {
		return nil, err
	}

	epochs, err := lookupFloat(data, keys.Epochs)
	if err != nil {
		return nil, err
	}
	if epochs != nil {
		e := int(math.Round(*epochs))
		r.EpochsRun = &e
	}

	if r.WallTimeMinutes, err = lookupFloat(data, keys.WallTimeMinutes); err != nil {
		return nil, err
	}
	if r.WallTimeMinutes == nil {
		seconds, err := lookupFloat(data, keys.WallTimeSeconds)
		if err != nil {
			return nil, err
		}
		if seconds != nil {
			r.WallTimeMinutes = minutes(time.Duration(*seconds * float64(time.Second)))
		}
	}

	return r, nil
}

// lookupFloat returns the first expression with a numeric match
func lookupFloat(data interface{}, exprs []string) (*float64, error) {
	for _, expr := range exprs {
		jp := jsonpath.New("metric")
		jp.AllowMissingKeys(true)
		if err := jp.Parse(expr); err != nil {
			return nil, err
		}

		values, err := jp.FindResults(data)
		if err != nil || len(values) != 1 || len(values[0]) != 1 {
			continue
		}

		if !values[0][0].IsValid() {
			continue
		}
		v := values[0][0].Interface()
		if v == nil {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("could not convert %s to a floating point number: %w", expr, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		return &f, nil
	}
	return nil, nil
}

func minutes(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	m := d.Minutes()
	return &m
}
