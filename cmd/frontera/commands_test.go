// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/frontera-labs/frontera/services/coach/research"
)

func TestPrintCatalog_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printCatalog(&buf, false))

	out := buf.String()
	for _, territory := range research.Catalog() {
		assert.Contains(t, out, "("+string(territory.ID)+")")
		for _, area := range territory.Areas {
			assert.Contains(t, out, "("+area.ID+")")
		}
	}
	assert.Contains(t, out, "    0. ")
}

func TestPrintCatalog_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printCatalog(&buf, true))

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, len(research.Catalog()))
}

func TestRunMigrate_SQLiteFile(t *testing.T) {
	dbDriver = "sqlite"
	databaseURL = filepath.Join(t.TempDir(), "frontera.db")
	t.Cleanup(func() { dbDriver, databaseURL = "", "" })

	require.NoError(t, runMigrate(migrateCmd, nil))
	// Migrations are idempotent.
	require.NoError(t, runMigrate(migrateCmd, nil))
}

func TestRunMigrate_RequiresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dbDriver, databaseURL = "sqlite", ""
	t.Cleanup(func() { dbDriver = "" })

	err := runMigrate(migrateCmd, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "database"))
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "catalog"} {
		assert.True(t, names[want], want)
	}
}
