// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontera-labs/frontera/pkg/extensions"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches []batchRequest
	paths   []string
}

func (r *batchRecorder) handler(t *testing.T, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var br batchRequest
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&br))
		r.mu.Lock()
		r.batches = append(r.batches, br)
		r.paths = append(r.paths, req.URL.Path)
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (r *batchRecorder) events() []batchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []batchEvent
	for _, b := range r.batches {
		out = append(out, b.Batch...)
	}
	return out
}

func TestPostHogSink_CloseFlushes(t *testing.T) {
	rec := &batchRecorder{}
	srv := httptest.NewServer(rec.handler(t, http.StatusOK))
	defer srv.Close()

	sink := NewPostHogSink(Config{APIKey: "phc_test", Host: srv.URL + "/", BatchSize: 2, FlushInterval: time.Hour})
	ctx := context.Background()
	sink.Capture(ctx, extensions.AnalyticsEvent{
		Event: extensions.EventMessageReceived, DistinctID: "user_1", OrgID: "org_1",
		Properties: map[string]any{"conversation_id": "c1"},
	})
	sink.Capture(ctx, extensions.AnalyticsEvent{Event: extensions.EventBetCreated, OrgID: "org_1"})
	sink.Capture(ctx, extensions.AnalyticsEvent{Event: extensions.EventCanvasUpdated, DistinctID: "user_1"})

	require.NoError(t, sink.Close(ctx))

	events := rec.events()
	require.Len(t, events, 3)
	assert.Equal(t, extensions.EventMessageReceived, events[0].Event)
	assert.Equal(t, "user_1", events[0].DistinctID)
	assert.Equal(t, "c1", events[0].Properties["conversation_id"])
	assert.Equal(t, "org_1", events[0].Properties["org_id"])
	assert.Equal(t, map[string]any{"organization": "org_1"}, events[0].Properties["$groups"])
	assert.Equal(t, "org_1", events[1].DistinctID)
	assert.NotContains(t, events[2].Properties, "org_id")
	assert.NotEmpty(t, events[0].Timestamp)

	rec.mu.Lock()
	assert.Len(t, rec.batches, 2)
	assert.Equal(t, "/batch/", rec.paths[0])
	assert.Equal(t, "phc_test", rec.batches[0].APIKey)
	rec.mu.Unlock()
}

func TestPostHogSink_FlushInterval(t *testing.T) {
	rec := &batchRecorder{}
	srv := httptest.NewServer(rec.handler(t, http.StatusOK))
	defer srv.Close()

	sink := NewPostHogSink(Config{Host: srv.URL, BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	defer sink.Close(context.Background())

	sink.Capture(context.Background(), extensions.AnalyticsEvent{Event: "tick", DistinctID: "u"})
	assert.Eventually(t, func() bool { return len(rec.events()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPostHogSink_DropsWhenFullOrClosed(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	var drops atomic.Int64
	sink := NewPostHogSink(Config{
		Host: srv.URL, BufferSize: 1, BatchSize: 1, FlushInterval: time.Hour,
		OnDrop: func() { drops.Add(1) },
	})

	for i := 0; i < 10; i++ {
		sink.Capture(context.Background(), extensions.AnalyticsEvent{Event: "e", DistinctID: "u"})
	}
	assert.Positive(t, drops.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, sink.Close(ctx))

	before := drops.Load()
	sink.Capture(context.Background(), extensions.AnalyticsEvent{Event: "late"})
	assert.Equal(t, before+1, drops.Load())
}

func TestPostHogSink_ServerErrorDoesNotPanic(t *testing.T) {
	rec := &batchRecorder{}
	srv := httptest.NewServer(rec.handler(t, http.StatusInternalServerError))
	defer srv.Close()

	sink := NewPostHogSink(Config{Host: srv.URL})
	sink.Capture(context.Background(), extensions.AnalyticsEvent{Event: "e", DistinctID: "u"})
	require.NoError(t, sink.Close(context.Background()))
	assert.Len(t, rec.events(), 1)
}

func TestPostHogSink_ClientWithoutTimeout(t *testing.T) {
	rec := &batchRecorder{}
	inner := rec.handler(t, http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
		inner(w, r)
	}))
	defer srv.Close()

	sink := NewPostHogSink(Config{Host: srv.URL, HTTPClient: &http.Client{}, FlushInterval: time.Hour})
	defer func() { _ = sink.Close(context.Background()) }()
	assert.Equal(t, defaultSendTimeout, sink.sendTimeout())

	err := sink.send([]extensions.AnalyticsEvent{{Event: "e", DistinctID: "u", Timestamp: time.Now()}})
	require.NoError(t, err, "a slow but healthy endpoint must not hit the deadline")
	assert.Len(t, rec.events(), 1)

	timed := NewPostHogSink(Config{Host: srv.URL, HTTPClient: &http.Client{Timeout: 3 * time.Second}, FlushInterval: time.Hour})
	defer func() { _ = timed.Close(context.Background()) }()
	assert.Equal(t, 4*time.Second, timed.sendTimeout())
}
