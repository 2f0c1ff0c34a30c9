/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

// AssertSamplesCountInHistogram asserts that passed prometheus.Observer (usually got from HistogramVec.With())
// contains the specified number of samples.
func AssertSamplesCountInHistogram(t assert.TestingT, hist prometheus.Observer, wantSamplesCount int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	collector, ok := hist.(prometheus.Collector)
	if !assert.True(t, ok, "histogram should implement prometheus.Collector") {
		return false
	}
	reg := prometheus.NewPedanticRegistry()
	if !assert.NoError(t, reg.Register(collector)) {
		return false
	}
	gotMetrics, err := reg.Gather()
	if !assert.NoError(t, err) {
		return false
	}
	if !assert.Equal(t, 1, len(gotMetrics)) {
		return false
	}
	return assert.Equal(t, wantSamplesCount, int(gotMetrics[0].GetMetric()[0].GetHistogram().GetSampleCount()))
}
