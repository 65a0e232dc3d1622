// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coach

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/config"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.GinMode = "test"
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"}
	cfg.LLM.AnthropicAPIKey = "sk-ant-test"
	cfg.Auth.Disabled = true
	return &cfg
}

func serve(svc Service, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	return w
}

// =============================================================================
// New
// =============================================================================

func TestNew_Integration(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	w := serve(svc, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(svc, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	// Auth disabled: requests run as the local org.
	w = serve(svc, http.MethodPost, "/api/conversations", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), extensions.LocalOrgID)
}

func TestNew_CustomProviders(t *testing.T) {
	sink := &extensions.NopAnalyticsSink{}
	opts := extensions.DefaultOptions().WithAnalytics(sink)

	svc, err := New(testConfig(), &opts)
	require.NoError(t, err)
	defer svc.Close(context.Background())

	impl, ok := svc.(*service)
	require.True(t, ok)
	assert.Same(t, sink, impl.opts.Analytics)
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing anthropic key", func(c *config.Config) { c.LLM.AnthropicAPIKey = "" }},
		{"missing openai key", func(c *config.Config) { c.LLM.Backend = "openai" }},
		{"missing clerk key", func(c *config.Config) { c.Auth.Disabled = false }},
		{"missing database url", func(c *config.Config) { c.Database.URL = "" }},
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "mysql" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			svc, err := New(cfg, nil)
			assert.Error(t, err)
			assert.Nil(t, svc)
		})
	}

	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestNew_InvalidClerkKey(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Disabled = false
	cfg.Auth.ClerkJWTKey = "not a pem block"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Clerk")
}

func TestServiceImplementsInterface(t *testing.T) {
	var _ Service = (*service)(nil)
}
