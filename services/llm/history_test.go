// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessagesToChatHistory(t *testing.T) {
	in := []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "system", Content: "more rules"},
		{Role: "user", Content: "three"},
	}

	got := MessagesToChatHistory(in)

	assert.Equal(t, []Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}, got)
}

func TestMessagesToChatHistory_OnlySystem(t *testing.T) {
	got := MessagesToChatHistory([]Message{{Role: "system", Content: "x"}})

	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, MessagesToChatHistory(nil))
}

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{strings.Repeat("x", 401), 101},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokenCount(tt.text), "len=%d", len(tt.text))
	}
}
