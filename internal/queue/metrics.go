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
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics describe the progress of a queue run.
type Metrics struct {
	Registry *prometheus.Registry

	// Experiments is a Prometheus counter metric which holds the total number
	// of finished experiments per terminal status
	Experiments *prometheus.CounterVec

	// Duration is a Prometheus histogram metric of the trainer wall time
	Duration prometheus.Histogram

	// Remaining is a Prometheus gauge metric which holds the number of pending experiments
	Remaining prometheus.Gauge
}

// NewMetrics returns metrics registered with a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Experiments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialmatrix_experiments_total",
			Help: "Total number of finished experiments per status",
		}, []string{"status"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trialmatrix_experiment_duration_seconds",
			Help:    "Wall time of the trainer per experiment",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		}),
		Remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trialmatrix_queue_remaining",
			Help: "Number of experiments which have not started",
		}),
	}

	m.Registry.MustRegister(
		m.Experiments,
		m.Duration,
		m.Remaining,
	)
	return m
}

// Observe records a finished experiment.
func (m *Metrics) Observe(r *experiment.Record, remaining int) {
	m.Experiments.WithLabelValues(string(r.Status)).Inc()
	if d := r.WallTime(); d > 0 {
		m.Duration.Observe(d.Seconds())
	}
	m.Remaining.Set(float64(remaining))
}

// WriteToTextfile writes the metrics in the text exposition format for the node exporter textfile collector.
func (m *Metrics) WriteToTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.Registry)
}
