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

import "math"

// Correlation describes how well the local score predicts the public leaderboard.
type Correlation struct {
	// Samples is the number of submitted experiments with both scores
	Samples int `json:"samples"`
	// Pearson is the correlation coefficient, absent with fewer than two samples or no variance
	Pearson *float64 `json:"pearson,omitempty"`
	// MeanGap is the average public minus local score
	MeanGap *float64 `json:"meanGap,omitempty"`
	// Tiers counts the submissions per overfitting tier
	Tiers map[Tier]int `json:"tiers"`
}

func correlate(subs []Submission) *Correlation {
	c := &Correlation{Tiers: make(map[Tier]int)}

	var local, public []float64
	var gaps float64
	for i := range subs {
		s := &subs[i]
		if !s.Submitted {
			continue
		}
		c.Tiers[s.OverfittingTier]++
		if gap, ok := s.Gap(); ok {
			local = append(local, *s.LocalF1)
			public = append(public, *s.ServerPublic)
			gaps += gap
		}
	}

	c.Samples = len(local)
	if c.Samples > 0 {
		m := gaps / float64(c.Samples)
		c.MeanGap = &m
	}
	c.Pearson = Pearson(local, public)
	return c
}

// Pearson returns the correlation coefficient of two equal length series, or nil if it is undefined.
func Pearson(x, y []float64) *float64 {
	n := len(x)
	if n < 2 || n != len(y) {
		return nil
	}

	var mx, my float64
	for i := 0; i < n; i++ {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return nil
	}

	r := sxy / math.Sqrt(sxx*syy)
	return &r
}
