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
	"fmt"
	"io"
	"time"

	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/muesli/termenv"
	"k8s.io/apimachinery/pkg/util/duration"
)

// Progress writes one line per experiment transition.
type Progress struct {
	Out     io.Writer
	Profile termenv.Profile

	total int
	done  []time.Duration
}

// NewProgress returns progress reporting to the supplied writer.
func NewProgress(out io.Writer, profile termenv.Profile) *Progress {
	return &Progress{Out: out, Profile: profile}
}

// Begin resets the progress for a run of the supplied number of experiments.
func (p *Progress) Begin(total int) {
	p.total = total
	p.done = nil
}

// Started reports an experiment starting.
func (p *Progress) Started(n int, r *experiment.Record) {
	p.printf("[%d/%d] %s %s\n", n, p.total, r.ID, p.color("running", "4"))
}

// Finished reports a terminal experiment along with the expected time to finish the remaining experiments.
func (p *Progress) Finished(n int, r *experiment.Record, remaining int) {
	if d := r.WallTime(); d > 0 {
		p.done = append(p.done, d)
	}

	line := experiment.Summarize(r)
	if remaining > 0 {
		if eta := p.ETA(remaining); eta > 0 {
			line += ", eta " + duration.HumanDuration(eta)
		}
	}
	p.printf("[%d/%d] %s\n", n, p.total, p.colorStatus(r.Status, line))
}

// ETA returns the mean wall time of the finished experiments multiplied by the remaining count.
func (p *Progress) ETA(remaining int) time.Duration {
	if len(p.done) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range p.done {
		sum += d
	}
	return sum / time.Duration(len(p.done)) * time.Duration(remaining)
}

func (p *Progress) colorStatus(status experiment.Status, s string) string {
	switch status {
	case experiment.StatusCompleted:
		return p.color(s, "2")
	case experiment.StatusTimeout:
		return p.color(s, "3")
	case experiment.StatusFailed:
		return p.color(s, "1")
	}
	return s
}

func (p *Progress) color(s, c string) string {
	if p.Profile == termenv.Ascii {
		return s
	}
	return termenv.String(s).Foreground(p.Profile.Color(c)).String()
}

func (p *Progress) printf(format string, a ...interface{}) {
	if p == nil || p.Out == nil {
		return
	}
	_, _ = fmt.Fprintf(p.Out, format, a...)
}
