// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics exports callback counts and latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nlp"

// Result label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Evaluations records the outcome of adapter callbacks.
// It satisfies nlp.Observer and is safe for use by concurrent clones.
type Evaluations struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// New registers the callback collectors with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Evaluations {
	f := promauto.With(reg)
	return &Evaluations{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_calls_total",
			Help:      "Total evaluation callbacks by callback and result",
		}, []string{"callback", "result"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_duration_seconds",
			Help:      "Evaluation callback duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10), // 1µs to ~260ms
		}, []string{"callback"}),
	}
}

// Observe counts one callback and records its duration.
func (e *Evaluations) Observe(callback string, ok bool, elapsed time.Duration) {
	result := ResultOK
	if !ok {
		result = ResultFailed
	}
	e.Calls.WithLabelValues(callback, result).Inc()
	e.Duration.WithLabelValues(callback).Observe(elapsed.Seconds())
}
