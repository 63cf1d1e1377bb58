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
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gramlabs/trialmatrix/internal/sfio"
	"github.com/spf13/cast"
)

// Columns are the fields of the persisted submission table, in order.
var Columns = []string{
	"experiment_id",
	"local_f1",
	"submitted",
	"submission_date",
	"server_public",
	"server_private",
	"rank_public",
	"rank_private",
	"notes",
	"overfitting_tier",
	"ensemble_recommended",
}

// Store reads and writes the submission table.
type Store struct {
	Path string
}

// Load returns the persisted submissions, a missing table has no submissions.
func (s *Store) Load() ([]Submission, error) {
	f, err := os.Open(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	subs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return subs, nil
}

// Save replaces the submission table.
func (s *Store) Save(subs []Submission) error {
	var buf bytes.Buffer
	if err := Encode(&buf, subs); err != nil {
		return err
	}
	return sfio.WriteFileAtomic(s.Path, buf.Bytes(), 0644)
}

// Encode writes submissions as CSV with a header row.
func Encode(w io.Writer, subs []Submission) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for i := range subs {
		if err := cw.Write(encodeRow(&subs[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode reads submissions from CSV. Columns are matched by header name.
func Decode(r io.Reader) ([]Submission, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	if _, ok := index[Columns[0]]; !ok {
		return nil, fmt.Errorf("missing %s column", Columns[0])
	}

	var subs []Submission
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return subs, nil
		}
		if err != nil {
			return nil, err
		}

		field := func(name string) string {
			if i, ok := index[name]; ok && i < len(rec) {
				return rec[i]
			}
			return ""
		}
		s, err := decodeRow(field)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		subs = append(subs, s)
	}
}

func encodeRow(s *Submission) []string {
	var date string
	if s.SubmissionDate != nil {
		date = s.SubmissionDate.UTC().Format(time.RFC3339)
	}
	return []string{
		s.ExperimentID,
		formatFloat(s.LocalF1),
		strconv.FormatBool(s.Submitted),
		date,
		formatFloat(s.ServerPublic),
		formatFloat(s.ServerPrivate),
		formatInt(s.RankPublic),
		formatInt(s.RankPrivate),
		s.Notes,
		string(s.OverfittingTier),
		strconv.FormatBool(s.EnsembleRecommended),
	}
}

func decodeRow(field func(string) string) (Submission, error) {
	s := Submission{
		ExperimentID:    field("experiment_id"),
		Notes:           field("notes"),
		OverfittingTier: Tier(field("overfitting_tier")),
	}
	if s.ExperimentID == "" {
		return s, fmt.Errorf("missing experiment_id")
	}
	if s.OverfittingTier == "" {
		s.OverfittingTier = TierUnknown
	}

	var err error
	if s.LocalF1, err = parseFloat(field("local_f1")); err != nil {
		return s, err
	}
	if s.ServerPublic, err = parseFloat(field("server_public")); err != nil {
		return s, err
	}
	if s.ServerPrivate, err = parseFloat(field("server_private")); err != nil {
		return s, err
	}
	if s.RankPublic, err = parseInt(field("rank_public")); err != nil {
		return s, err
	}
	if s.RankPrivate, err = parseInt(field("rank_private")); err != nil {
		return s, err
	}
	if s.Submitted, err = parseBool(field("submitted")); err != nil {
		return s, err
	}
	if s.EnsembleRecommended, err = parseBool(field("ensemble_recommended")); err != nil {
		return s, err
	}
	if v := field("submission_date"); v != "" {
		d, err := cast.ToTimeE(v)
		if err != nil {
			return s, err
		}
		s.SubmissionDate = &d
	}
	return s, nil
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}

func formatInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func parseFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseInt(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return cast.ToBoolE(v)
}
