// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics ships product analytics events to PostHog.
//
// # Description
//
// Capture never blocks on the network. Events go into a bounded buffer; a
// single background worker posts them in batches to the PostHog /batch/
// endpoint. When the buffer is full the event is dropped and counted.
// Delivery failures are logged and the batch is discarded.
//
// # Thread Safety
//
// Capture is safe for concurrent use. Close must be called once.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/frontera-labs/frontera/pkg/extensions"
)

const defaultSendTimeout = 10 * time.Second

// Config configures a PostHog sink.
type Config struct {
	APIKey        string
	Host          string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration

	// HTTPClient overrides the default client (10s timeout). A client
	// without a Timeout gets the default as a per-batch deadline.
	HTTPClient *http.Client

	// OnDrop is called once per event dropped because the buffer is full or
	// the sink is closed.
	OnDrop func()
}

// PostHogSink is an asynchronous extensions.AnalyticsSink.
type PostHogSink struct {
	cfg    Config
	client *http.Client
	events chan extensions.AnalyticsEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPostHogSink starts the background worker.
func NewPostHogSink(cfg Config) *PostHogSink {
	if cfg.Host == "" {
		cfg.Host = "https://us.i.posthog.com"
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}

	s := &PostHogSink{
		cfg:    cfg,
		client: client,
		events: make(chan extensions.AnalyticsEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Capture enqueues event without blocking.
func (s *PostHogSink) Capture(_ context.Context, event extensions.AnalyticsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped()
		return
	}
	select {
	case s.events <- event:
	default:
		s.dropped()
	}
}

// Close stops accepting events and waits for buffered events to be sent or
// for ctx to expire.
func (s *PostHogSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analytics flush: %w", ctx.Err())
	}
}

func (s *PostHogSink) dropped() {
	if s.cfg.OnDrop != nil {
		s.cfg.OnDrop()
	}
}

func (s *PostHogSink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]extensions.AnalyticsEvent, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.send(batch); err != nil {
			slog.Warn("analytics batch dropped", "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// =============================================================================
// Wire format
// =============================================================================

type batchRequest struct {
	APIKey string       `json:"api_key"`
	Batch  []batchEvent `json:"batch"`
}

type batchEvent struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Timestamp  string         `json:"timestamp"`
	Properties map[string]any `json:"properties"`
}

func toBatchEvent(ev extensions.AnalyticsEvent) batchEvent {
	props := make(map[string]any, len(ev.Properties)+2)
	for k, v := range ev.Properties {
		props[k] = v
	}
	if ev.OrgID != "" {
		props["org_id"] = ev.OrgID
		props["$groups"] = map[string]string{"organization": ev.OrgID}
	}
	distinct := ev.DistinctID
	if distinct == "" {
		distinct = ev.OrgID
	}
	return batchEvent{
		Event:      ev.Event,
		DistinctID: distinct,
		Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Properties: props,
	}
}

func (s *PostHogSink) send(events []extensions.AnalyticsEvent) error {
	req := batchRequest{APIKey: s.cfg.APIKey, Batch: make([]batchEvent, len(events))}
	for i, ev := range events {
		req.Batch[i] = toBatchEvent(ev)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout())
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Host+"/batch/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("posthog returned %d", resp.StatusCode)
	}
	return nil
}

// sendTimeout bounds one batch POST. It leaves the client's own timeout a
// second to fire first.
func (s *PostHogSink) sendTimeout() time.Duration {
	if s.client.Timeout <= 0 {
		return defaultSendTimeout
	}
	return s.client.Timeout + time.Second
}

var _ extensions.AnalyticsSink = (*PostHogSink)(nil)
