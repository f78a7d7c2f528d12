// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Observe("eval_f", true, time.Millisecond)
	m.Observe("eval_f", true, time.Millisecond)
	m.Observe("eval_f", false, time.Millisecond)
	m.Observe("eval_h", true, 2*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Calls.WithLabelValues("eval_f", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("eval_f", ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("eval_h", ResultOK)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Duration))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.ElementsMatch(t, []string{"nlp_callback_calls_total", "nlp_callback_duration_seconds"}, names)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestUnregistered(t *testing.T) {
	m := New(nil)
	m.Observe("eval_g", false, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("eval_g", ResultFailed)))
}
