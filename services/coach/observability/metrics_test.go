// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointMessages, true)
	m.RecordRequest(EndpointMessages, true)
	m.RecordRequest(EndpointMessages, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("messages", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("messages", "error")))
}

func TestActiveStreams(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted(EndpointMessages)
	m.StreamStarted(EndpointMessages)
	m.StreamEnded(EndpointMessages)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("messages")))
}

func TestRecordTokens(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTokens(120, 40, "strategy_coach")

	assert.Equal(t, 120.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("input", "strategy_coach")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("output", "strategy_coach")))
}

func TestRecordArtefactOutcomes(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordArtefact("team_brief", true, 0)
	m.RecordArtefact("team_brief", true, 2)
	m.RecordArtefact("team_brief", false, 0)

	for _, outcome := range []string{"structured", "incomplete", "raw"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ArtefactsTotal.WithLabelValues("team_brief", outcome)), outcome)
	}
}

func TestStateConflictsAndCaptures(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordStateConflict(false)
	m.RecordStateConflict(false)
	m.RecordStateConflict(true)
	m.RecordCaptures("tool", 3)
	m.RecordCaptures("marker", 0)
	m.RecordAnalyticsDrop()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StateConflictsTotal.WithLabelValues("retried")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateConflictsTotal.WithLabelValues("exhausted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CapturesTotal.WithLabelValues("tool")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CapturesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyticsDroppedTotal))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest(EndpointMessages, true)
		m.RecordError(EndpointMessages, ErrorCodeLLMError)
		m.RecordTokens(1, 1, "x")
		m.StreamStarted(EndpointMessages)
		m.StreamEnded(EndpointMessages)
		m.RecordTimeToFirstToken(EndpointMessages, 0.1)
		m.RecordStreamDuration(EndpointMessages, 1, true)
		m.RecordStateConflict(true)
		m.RecordCaptures("tool", 1)
		m.RecordArtefact("team_brief", true, 0)
		m.RecordAnalyticsDrop()
	})
}

func TestInitMetricsIsIdempotent(t *testing.T) {
	a := InitMetrics()
	b := InitMetrics()
	assert.Same(t, a, b)
	assert.Same(t, DefaultMetrics, a)
}
