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

// Package results recovers the local metrics of an experiment from an ordered
// list of sources. The first source to produce an F1 score wins.
package results

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gramlabs/trialmatrix/internal/experiment"
)

// ErrNoResult is returned by a source that has nothing for an experiment.
var ErrNoResult = errors.New("no result")

// Source produces the metrics of an experiment.
type Source interface {
	// Name is the provenance recorded with the result
	Name() experiment.Source
	// Fetch returns the result of an experiment, or ErrNoResult
	Fetch(ctx context.Context, experimentID string) (*experiment.Result, error)
}

// SourceUnresolved is returned when no source could produce a result.
type SourceUnresolved struct {
	ExperimentID string
	// Reasons holds the failure of each source, in source order
	Reasons map[experiment.Source]error
	order   []experiment.Source
}

func (e *SourceUnresolved) Error() string {
	var reasons []string
	for _, s := range e.order {
		reasons = append(reasons, fmt.Sprintf("%s: %v", s, e.Reasons[s]))
	}
	return fmt.Sprintf("unresolved result for %s [%s]", e.ExperimentID, strings.Join(reasons, ", "))
}

// Parser tries each source in order.
type Parser struct {
	Sources []Source
	Log     logr.Logger
}

// NewParser returns a parser using the supplied sources in priority order.
func NewParser(log logr.Logger, sources ...Source) *Parser {
	return &Parser{Sources: sources, Log: log}
}

// Resolve returns the result of the first source that has an F1 score for the experiment.
func (p *Parser) Resolve(ctx context.Context, experimentID string) (*experiment.Result, error) {
	unresolved := &SourceUnresolved{ExperimentID: experimentID, Reasons: make(map[experiment.Source]error)}
	for _, s := range p.Sources {
		r, err := s.Fetch(ctx, experimentID)
		if err == nil && (r == nil || r.F1Macro == nil) {
			err = ErrNoResult
		}
		if err != nil {
			unresolved.order = append(unresolved.order, s.Name())
			unresolved.Reasons[s.Name()] = err
			if !errors.Is(err, ErrNoResult) {
				p.Log.Error(err, "Result source failed", "experimentID", experimentID, "source", s.Name())
			}
			continue
		}

		r.Source = s.Name()
		return r, nil
	}
	return nil, unresolved
}

// Parse always returns a result, possibly unresolved.
func (p *Parser) Parse(ctx context.Context, experimentID string) *experiment.Result {
	r, err := p.Resolve(ctx, experimentID)
	if err != nil {
		p.Log.Info("No result found", "experimentID", experimentID, "reason", err.Error())
		return experiment.Unresolved()
	}
	return r
}
