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

package tracker

import (
	"math"
	"time"
)

// Tier is the severity of the gap between the local and the leaderboard score.
type Tier string

const (
	TierLow     Tier = "low"
	TierMedium  Tier = "medium"
	TierHigh    Tier = "high"
	TierUnknown Tier = "unknown"
)

const (
	// LowGap is the smallest gap (leaderboard minus local) of a low tier submission
	LowGap = -0.02
	// MediumGap is the smallest gap of a medium tier submission
	MediumGap = -0.05
)

// TierFor returns the tier of a gap between the leaderboard and local score.
// Gaps are rounded to the micro-point so boundaries are not subject to float noise.
func TierFor(gap float64) Tier {
	gap = roundGap(gap)
	switch {
	case gap >= LowGap:
		return TierLow
	case gap >= MediumGap:
		return TierMedium
	default:
		return TierHigh
	}
}

func roundGap(gap float64) float64 {
	return math.Round(gap*1e6) / 1e6
}

// Submission tracks the leaderboard outcome of a single experiment.
type Submission struct {
	ExperimentID        string     `json:"experimentID"`
	LocalF1             *float64   `json:"localF1,omitempty"`
	Submitted           bool       `json:"submitted"`
	SubmissionDate      *time.Time `json:"submissionDate,omitempty"`
	ServerPublic        *float64   `json:"serverPublic,omitempty"`
	ServerPrivate       *float64   `json:"serverPrivate,omitempty"`
	RankPublic          *int       `json:"rankPublic,omitempty"`
	RankPrivate         *int       `json:"rankPrivate,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	OverfittingTier     Tier       `json:"overfittingTier"`
	EnsembleRecommended bool       `json:"ensembleRecommended"`
}

// Scored returns true if the submission has both a local and a public leaderboard score.
func (s *Submission) Scored() bool {
	return s.Submitted && s.LocalF1 != nil && s.ServerPublic != nil
}

// Gap returns the public leaderboard score minus the local score.
func (s *Submission) Gap() (float64, bool) {
	if !s.Scored() {
		return 0, false
	}
	return roundGap(*s.ServerPublic - *s.LocalF1), true
}

// tier derives the overfitting tier
func (s *Submission) tier() Tier {
	if gap, ok := s.Gap(); ok {
		return TierFor(gap)
	}
	return TierUnknown
}

// table is the ordered set of submissions keyed by experiment identifier
type table struct {
	rows  []Submission
	index map[string]int
}

func newTable(rows []Submission) *table {
	t := &table{index: make(map[string]int, len(rows))}
	for _, s := range rows {
		t.put(s)
	}
	return t
}

// get returns the submission for an experiment, appending a new one if necessary
func (t *table) get(id string) *Submission {
	if i, ok := t.index[id]; ok {
		return &t.rows[i]
	}
	t.put(Submission{ExperimentID: id, OverfittingTier: TierUnknown})
	return &t.rows[len(t.rows)-1]
}

func (t *table) lookup(id string) (*Submission, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return &t.rows[i], true
}

// put replaces a submission with the same key in place, otherwise appends it
func (t *table) put(s Submission) {
	if i, ok := t.index[s.ExperimentID]; ok {
		t.rows[i] = s
		return
	}
	t.index[s.ExperimentID] = len(t.rows)
	t.rows = append(t.rows, s)
}

// recompute refreshes the derived columns of every submission
func (t *table) recompute() {
	var ranked []*Submission
	for i := range t.rows {
		s := &t.rows[i]
		s.OverfittingTier = s.tier()
		s.EnsembleRecommended = false
		if s.Submitted && s.ServerPublic != nil {
			ranked = append(ranked, s)
		}
	}

	// Submissions without a local score still take a place in the top third
	for _, s := range topByPublic(ranked) {
		s.EnsembleRecommended = s.OverfittingTier == TierLow || s.OverfittingTier == TierMedium
	}
}

// topByPublic returns the top third (rounded up) of the submissions by public leaderboard score
func topByPublic(submitted []*Submission) []*Submission {
	sortByPublic(submitted)
	n := (len(submitted) + 2) / 3
	return submitted[:n]
}
