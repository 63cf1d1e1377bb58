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
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an experiment record.
type Status string

const (
	// StatusPending records have not been started yet.
	StatusPending Status = "pending"
	// StatusRunning records have a trainer process (or a pre-flight check) in progress.
	StatusRunning Status = "running"
	// StatusCompleted records had a trainer exit with a zero return code.
	StatusCompleted Status = "completed"
	// StatusFailed records either failed pre-flight or had a trainer exit non-zero.
	StatusFailed Status = "failed"
	// StatusTimeout records had a trainer exceed the wall-clock timeout.
	StatusTimeout Status = "timeout"
)

// IsTerminal returns true for the completed, failed and timeout states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Source is the provenance of a result record.
type Source string

const (
	SourceTrackerAPI Source = "tracker_api"
	SourceSidecar    Source = "sidecar"
	SourceLog        Source = "log"
	SourceCheckpoint Source = "checkpoint"
	SourceUnresolved Source = "unresolved"
)

// Result holds the local metrics recovered for an experiment. A nil metric
// means "no data", which is never the same thing as zero.
type Result struct {
	F1Macro         *float64 `json:"f1Macro"`
	Accuracy        *float64 `json:"accuracy"`
	EpochsRun       *int     `json:"epochsRun"`
	WallTimeMinutes *float64 `json:"wallTimeMinutes"`
	Source          Source   `json:"source"`
}

// Unresolved returns a result with no metrics.
func Unresolved() *Result {
	return &Result{Source: SourceUnresolved}
}

// Resolved returns true if the result came from an actual source and has an F1 score.
func (r *Result) Resolved() bool {
	return r != nil && r.Source != SourceUnresolved && r.F1Macro != nil
}

// ErrInvalidTransition is returned when a status change would violate the record lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// Record is the full lifecycle record of a single composed configuration.
type Record struct {
	// ID is the stable experiment identifier
	ID string `json:"id"`
	// ModelID identifies the model entry of the matrix
	ModelID string `json:"modelID"`
	// Category is the name of the hyperparameter axis
	Category string `json:"category"`
	// OptionName is the name of the option along the category axis
	OptionName string `json:"optionName"`
	// Invocation is the trainer command line (without the config argument)
	Invocation string `json:"invocation,omitempty"`
	// Config is the fully composed configuration
	Config map[string]interface{} `json:"config,omitempty"`

	Status    Status     `json:"status"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Result    *Result    `json:"result,omitempty"`

	// ReturnCode is the trainer exit code, if a trainer was spawned
	ReturnCode *int `json:"returnCode,omitempty"`
	// ErrorExcerpt is the reason (or the trainer output tail) for failed and timed out records
	ErrorExcerpt string `json:"errorExcerpt,omitempty"`
}

// Start moves a pending record to running.
func (r *Record) Start(now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s cannot start from %s", ErrInvalidTransition, r.ID, r.Status)
	}
	r.Status = StatusRunning
	r.StartTime = &now
	r.EndTime = nil
	return nil
}

// Finish moves a running record to a terminal status. The record always ends
// up with a result: a nil result is recorded as unresolved.
func (r *Record) Finish(status Status, result *Result, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", ErrInvalidTransition, status)
	}
	if r.Status != StatusRunning {
		return fmt.Errorf("%w: %s cannot finish from %s", ErrInvalidTransition, r.ID, r.Status)
	}
	if result == nil {
		result = Unresolved()
	}
	r.Status = status
	r.EndTime = &now
	r.Result = result
	return nil
}

// Revert moves an interrupted running record back to pending. Terminal records are never reverted.
func (r *Record) Revert() bool {
	if r.Status != StatusRunning {
		return false
	}
	r.Status = StatusPending
	r.StartTime = nil
	r.EndTime = nil
	r.Result = nil
	r.ReturnCode = nil
	r.ErrorExcerpt = ""
	return true
}

// WallTime returns the elapsed time between start and end, or zero if the record has not finished.
func (r *Record) WallTime() time.Duration {
	if r.StartTime == nil || r.EndTime == nil {
		return 0
	}
	if d := r.EndTime.Sub(*r.StartTime); d > 0 {
		return d
	}
	return 0
}

// HasResult returns true if the record has a resolved result.
func (r *Record) HasResult() bool {
	return r.Result.Resolved()
}
