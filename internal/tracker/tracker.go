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

// Package tracker records leaderboard submissions next to the local results of
// the experiment queue and derives the overfitting and ensemble signals.
package tracker

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/gramlabs/trialmatrix/internal/compose"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/queue"
	"github.com/spf13/cast"
)

// Strategy selects experiments worth submitting.
type Strategy string

const (
	// BestLocal selects the best unsubmitted experiments by local score
	BestLocal Strategy = "best_local"
	// Diverse selects the best unsubmitted experiment of each model
	Diverse Strategy = "diverse"
	// Conservative selects lightly augmented, shorter experiments
	Conservative Strategy = "conservative"
)

// Strategies are all of the candidate selection strategies.
var Strategies = []Strategy{BestLocal, Diverse, Conservative}

const (
	// CandidateLimit is the number of candidates returned by the limited strategies
	CandidateLimit = 5
	// ConservativeMaxEpochs is the exclusive upper bound on the epochs of a conservative candidate
	ConservativeMaxEpochs = 70
)

// ErrUnknownExperiment is returned when a submission names an experiment that is not part of the queue.
var ErrUnknownExperiment = errors.New("unknown experiment")

// MarkOptions are the optional leaderboard values of a submission.
type MarkOptions struct {
	RankPublic    *int
	ServerPrivate *float64
	RankPrivate   *int
	Notes         string
}

// Tracker owns the submission table.
type Tracker struct {
	Layout experiment.Layout
	Log    logr.Logger
	// Now returns the current time
	Now func() time.Time
}

// New returns a tracker for the supplied results layout.
func New(layout experiment.Layout, log logr.Logger) *Tracker {
	return &Tracker{Layout: layout, Log: log, Now: time.Now}
}

// Sync copies the local score of every resolved experiment of the queue into the submission table.
func (t *Tracker) Sync() ([]Submission, error) {
	doc, err := t.queue()
	if err != nil {
		return nil, err
	}
	tbl, err := t.load()
	if err != nil {
		return nil, err
	}

	added := 0
	for i := range doc.Records {
		r := &doc.Records[i]
		if !r.HasResult() {
			continue
		}
		if _, ok := tbl.lookup(r.ID); !ok {
			added++
		}
		s := tbl.get(r.ID)
		s.LocalF1 = r.Result.F1Macro
	}

	if err := t.save(tbl); err != nil {
		return nil, err
	}
	t.Log.Info("Synchronized submissions", "added", added, "total", len(tbl.rows))
	return tbl.rows, nil
}

// MarkSubmitted records the leaderboard result of an experiment.
func (t *Tracker) MarkSubmitted(id string, public float64, opts MarkOptions) (*Submission, error) {
	tbl, err := t.load()
	if err != nil {
		return nil, err
	}

	s, ok := tbl.lookup(id)
	if !ok || s.LocalF1 == nil {
		doc, err := t.queue()
		if err != nil {
			return nil, err
		}
		r := findRecord(doc, id)
		if r == nil || r.Result == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownExperiment, id)
		}
		s = tbl.get(id)
		if r.HasResult() {
			s.LocalF1 = r.Result.F1Macro
		}
	}

	now := t.now()
	s.Submitted = true
	s.SubmissionDate = &now
	s.ServerPublic = &public
	if opts.RankPublic != nil {
		s.RankPublic = opts.RankPublic
	}
	if opts.ServerPrivate != nil {
		s.ServerPrivate = opts.ServerPrivate
	}
	if opts.RankPrivate != nil {
		s.RankPrivate = opts.RankPrivate
	}
	if opts.Notes != "" {
		s.Notes = opts.Notes
	}

	if err := t.save(tbl); err != nil {
		return nil, err
	}

	result := *s
	t.Log.Info("Marked submitted", "experimentID", id, "tier", result.OverfittingTier, "ensembleRecommended", result.EnsembleRecommended)
	return &result, nil
}

// Submissions returns the persisted submission table.
func (t *Tracker) Submissions() ([]Submission, error) {
	tbl, err := t.load()
	if err != nil {
		return nil, err
	}
	return tbl.rows, nil
}

// Correlation returns the agreement between the local and public leaderboard scores of the submitted experiments.
func (t *Tracker) Correlation() (*Correlation, error) {
	tbl, err := t.load()
	if err != nil {
		return nil, err
	}
	return correlate(tbl.rows), nil
}

// EnsembleRecommendations returns the submissions recommended for an ensemble, best public score first.
func (t *Tracker) EnsembleRecommendations() ([]Submission, error) {
	tbl, err := t.load()
	if err != nil {
		return nil, err
	}

	var recommended []*Submission
	for i := range tbl.rows {
		if tbl.rows[i].EnsembleRecommended {
			recommended = append(recommended, &tbl.rows[i])
		}
	}
	sortByPublic(recommended)

	result := make([]Submission, 0, len(recommended))
	for _, s := range recommended {
		result = append(result, *s)
	}
	return result, nil
}

// Candidates returns the completed, unsubmitted experiments selected by the supplied strategy, best local score first.
func (t *Tracker) Candidates(strategy Strategy) ([]experiment.Record, error) {
	doc, err := t.queue()
	if err != nil {
		return nil, err
	}
	tbl, err := t.load()
	if err != nil {
		return nil, err
	}

	var eligible []experiment.Record
	for _, r := range doc.Records {
		if r.Status != experiment.StatusCompleted || !r.HasResult() {
			continue
		}
		if s, ok := tbl.lookup(r.ID); ok && s.Submitted {
			continue
		}
		eligible = append(eligible, r)
	}
	sort.SliceStable(eligible, func(i, j int) bool { return *eligible[i].Result.F1Macro > *eligible[j].Result.F1Macro })

	switch strategy {
	case BestLocal:
		return limit(eligible, CandidateLimit), nil
	case Diverse:
		return bestPerModel(eligible), nil
	case Conservative:
		return limit(conservative(eligible), CandidateLimit), nil
	}
	return nil, fmt.Errorf("unknown candidate strategy %q", strategy)
}

// bestPerModel keeps the first record of each model from records sorted by local score
func bestPerModel(records []experiment.Record) []experiment.Record {
	seen := make(map[string]bool)
	var result []experiment.Record
	for _, r := range records {
		if seen[r.ModelID] {
			continue
		}
		seen[r.ModelID] = true
		result = append(result, r)
	}
	return result
}

// conservative keeps the records with an augmentation level no higher than the lower median and fewer than the maximum epochs
func conservative(records []experiment.Record) []experiment.Record {
	levels := make(map[string]float64, len(records))
	var sorted []float64
	for _, r := range records {
		v, ok := compose.Get(r.Config, compose.PathAugmentation)
		if !ok {
			continue
		}
		level, err := cast.ToFloat64E(v)
		if err != nil {
			continue
		}
		levels[r.ID] = level
		sorted = append(sorted, level)
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Float64s(sorted)
	median := sorted[(len(sorted)-1)/2]

	var result []experiment.Record
	for _, r := range records {
		level, ok := levels[r.ID]
		if !ok || level > median {
			continue
		}
		if r.Result.EpochsRun == nil || *r.Result.EpochsRun >= ConservativeMaxEpochs {
			continue
		}
		result = append(result, r)
	}
	return result
}

func limit(records []experiment.Record, n int) []experiment.Record {
	if len(records) > n {
		return records[:n]
	}
	return records
}

func findRecord(doc *queue.Document, id string) *experiment.Record {
	for i := range doc.Records {
		if doc.Records[i].ID == id {
			return &doc.Records[i]
		}
	}
	return nil
}

// sortByPublic orders scored submissions by descending public score, ties by identifier
func sortByPublic(subs []*Submission) {
	sort.SliceStable(subs, func(i, j int) bool {
		if *subs[i].ServerPublic != *subs[j].ServerPublic {
			return *subs[i].ServerPublic > *subs[j].ServerPublic
		}
		return subs[i].ExperimentID < subs[j].ExperimentID
	})
}

func (t *Tracker) queue() (*queue.Document, error) {
	doc, err := (&queue.Store{Path: t.Layout.QueuePath()}).Load()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no experiment queue at %s, run the orchestrator first", t.Layout.QueuePath())
	}
	return doc, err
}

func (t *Tracker) load() (*table, error) {
	subs, err := t.store().Load()
	if err != nil {
		return nil, err
	}
	return newTable(subs), nil
}

// save recomputes the derived columns and replaces the table
func (t *Tracker) save(tbl *table) error {
	tbl.recompute()
	return t.store().Save(tbl.rows)
}

func (t *Tracker) store() *Store {
	return &Store{Path: t.Layout.SubmissionStorePath()}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
