// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func minimalEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":      "postgres://localhost/frontera",
		"ANTHROPIC_API_KEY": "sk-ant-test",
		"CLERK_JWT_KEY":     "-----BEGIN PUBLIC KEY-----\\nabc\\n-----END PUBLIC KEY-----",
	}
}

func TestLoadFrom_EnvOnly(t *testing.T) {
	vars := minimalEnv()
	vars["FRONTERA_ADMIN_USER_IDS"] = " user_1, ,user_2 "
	vars["FRONTERA_STRUCTURED_CAPTURE"] = "true"
	vars["FRONTERA_REDACT_UPLOADS"] = "false"
	vars["VERCEL_URL"] = "frontera-abc.vercel.app"

	cfg, err := LoadFrom("", env(vars))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "anthropic", cfg.LLM.Backend)
	assert.Equal(t, []string{"user_1", "user_2"}, cfg.Auth.AdminUserIDs)
	assert.True(t, cfg.StructuredCapture)
	assert.False(t, cfg.RedactUploads)
	assert.Equal(t, "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----", cfg.Auth.ClerkJWTKey)
	assert.Equal(t, "https://frontera-abc.vercel.app", cfg.AppURL)
	assert.Equal(t, "https://frontera-abc.vercel.app/share/tok", cfg.ShareURL("tok"))
}

func TestLoadFrom_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frontera.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
app_url: https://app.example.com/
database:
  driver: sqlite
  url: file:dev.db
llm:
  backend: openai
  openai_api_key: sk-file
  timeout: 30s
auth:
  disabled: true
rate_limit:
  rps: 2
  burst: 4
`), 0o644))

	cfg, err := LoadFrom(path, env(map[string]string{
		"FRONTERA_PORT":       "9100",
		"NEXT_PUBLIC_APP_URL": "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.Auth.Disabled)
	assert.Equal(t, "https://app.example.com", cfg.AppURL)
	assert.Equal(t, 2.0, cfg.RateLimit.RPS)
}

func TestLoadFrom_FailsFast(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{"missing database url", func(m map[string]string) { delete(m, "DATABASE_URL") }, "Database.URL"},
		{"missing anthropic key", func(m map[string]string) { delete(m, "ANTHROPIC_API_KEY") }, "LLM.AnthropicAPIKey"},
		{"openai without key", func(m map[string]string) { m["LLM_BACKEND"] = "openai" }, "LLM.OpenAIAPIKey"},
		{"unknown backend", func(m map[string]string) { m["LLM_BACKEND"] = "llama" }, "LLM.Backend"},
		{"missing clerk key", func(m map[string]string) { delete(m, "CLERK_JWT_KEY") }, "Auth.ClerkJWTKey"},
		{"bad driver", func(m map[string]string) { m["DATABASE_DRIVER"] = "mysql" }, "Database.Driver"},
		{"bad port", func(m map[string]string) { m["FRONTERA_PORT"] = "eighty" }, "FRONTERA_PORT"},
		{"bad bool", func(m map[string]string) { m["FRONTERA_STRUCTURED_CAPTURE"] = "sometimes" }, "FRONTERA_STRUCTURED_CAPTURE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := minimalEnv()
			tt.mutate(vars)
			_, err := LoadFrom("", env(vars))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFrom_AuthDisabledNeedsNoKey(t *testing.T) {
	vars := minimalEnv()
	delete(vars, "CLERK_JWT_KEY")
	vars["FRONTERA_AUTH_DISABLED"] = "1"

	cfg, err := LoadFrom("", env(vars))
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Disabled)
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"), env(minimalEnv()))
	assert.ErrorContains(t, err, "read config file")
}
