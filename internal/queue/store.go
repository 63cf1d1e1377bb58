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

package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/sfio"
	"golang.org/x/mod/semver"
)

// SchemaVersion is the version of the queue document written by this package.
const SchemaVersion = "v1.0.0"

// FatalError is an orchestrator level failure naming the offending path.
type FatalError struct {
	Path string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Document is the persisted queue.
type Document struct {
	SchemaVersion string              `json:"schemaVersion"`
	RunID         string              `json:"runID"`
	Created       time.Time           `json:"created"`
	Updated       time.Time           `json:"updated"`
	Records       []experiment.Record `json:"records"`
}

// NewDocument returns a new queue of records created at the supplied time.
func NewDocument(records []experiment.Record, created time.Time) *Document {
	return &Document{
		SchemaVersion: SchemaVersion,
		RunID:         uuid.New().String(),
		Created:       created,
		Records:       records,
	}
}

// Pending returns the number of records which have not started.
func (d *Document) Pending() int {
	n := 0
	for i := range d.Records {
		if d.Records[i].Status == experiment.StatusPending {
			n++
		}
	}
	return n
}

// Store reads and writes the queue document.
type Store struct {
	Path string
}

// Load reads the queue document; a missing document is reported with an os.ErrNotExist error.
func (s *Store) Load() (*Document, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		return nil, &FatalError{Path: s.Path, Err: err}
	}

	doc := &Document{}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, &FatalError{Path: s.Path, Err: fmt.Errorf("corrupt queue: %w", err)}
	}

	if !semver.IsValid(doc.SchemaVersion) {
		return nil, &FatalError{Path: s.Path, Err: fmt.Errorf("invalid queue schema version %q", doc.SchemaVersion)}
	}
	if semver.Major(doc.SchemaVersion) != semver.Major(SchemaVersion) || semver.Compare(doc.SchemaVersion, SchemaVersion) > 0 {
		return nil, &FatalError{Path: s.Path, Err: fmt.Errorf("unsupported queue schema version %s", doc.SchemaVersion)}
	}

	seen := make(map[string]bool, len(doc.Records))
	for i := range doc.Records {
		id := doc.Records[i].ID
		if id == "" || seen[id] {
			return nil, &FatalError{Path: s.Path, Err: fmt.Errorf("corrupt queue: missing or duplicate experiment id %q", id)}
		}
		seen[id] = true
	}

	return doc, nil
}

// Save replaces the queue document.
func (s *Store) Save(doc *Document) error {
	if err := sfio.WriteJSONAtomic(s.Path, doc); err != nil {
		return &FatalError{Path: s.Path, Err: err}
	}
	return nil
}
