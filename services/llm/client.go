// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model backends used by the coaching service.
//
// Two backends are supported: the Anthropic Messages API (raw REST with
// server-sent events for streaming) and OpenAI via go-openai. Both implement
// LLMClient so handlers never depend on a concrete provider.
package llm

import (
	"context"
	"encoding/json"
)

// Message is a single chat turn sent to a model.
//
// Role is "system", "user", or "assistant". System messages are lifted into
// the provider's system prompt field rather than sent as turns.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes a tool the model may call.
//
// InputSchema is a JSON Schema object describing the tool input.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a completed tool invocation emitted by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerationParams controls a single completion.
//
// Nil pointer fields use the backend default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// System is prepended to any system messages in the conversation.
	System string `json:"system,omitempty"`

	// Tools offered to the model. Empty means no tool use.
	Tools []ToolDefinition `json:"tools,omitempty"`
}

// =============================================================================
// Streaming
// =============================================================================

// StreamEventType discriminates StreamEvent payloads.
type StreamEventType string

const (
	// StreamEventToken carries a text fragment in Content.
	StreamEventToken StreamEventType = "token"

	// StreamEventToolCall carries a completed tool invocation in ToolCall.
	StreamEventToolCall StreamEventType = "tool_call"

	// StreamEventUsage carries final token accounting in Usage.
	StreamEventUsage StreamEventType = "usage"
)

// StreamEvent is one event delivered to a StreamCallback.
type StreamEvent struct {
	Type     StreamEventType
	Content  string
	ToolCall *ToolCall
	Usage    *Usage
}

// StreamCallback receives stream events in order.
//
// Returning an error aborts the stream; ChatStream returns that error.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
//
// Implementations must be safe for concurrent use.
type LLMClient interface {
	// Generate runs a single-prompt, non-streaming completion.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat runs a non-streaming completion over a conversation and returns
	// the concatenated text output.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream runs a streaming completion, invoking callback for each
	// token, each completed tool call, and once for usage at the end.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}
