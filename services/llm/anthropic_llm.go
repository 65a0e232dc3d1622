// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("frontera.llm")

const (
	anthropicAPIVersion = "2023-06-01"
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"
	defaultClaudeModel  = "claude-sonnet-4-20250514"
	defaultMaxTokens    = 4096

	// System prompts longer than this are marked for prompt caching.
	cacheThreshold = 1024

	// Placeholder user turn used when a history opens with the assistant.
	conversationStartTurn = "(conversation start)"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []ToolDefinition   `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      *Usage             `json:"usage,omitempty"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent is the union of all SSE data payloads we consume.
type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	Message      *anthropicResponse `json:"message,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *Usage          `json:"usage,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

// =============================================================================
// Client
// =============================================================================

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// Model defaults to a current Sonnet model.
	Model string

	// BaseURL overrides the Messages endpoint (tests point this at httptest).
	BaseURL string

	// Timeout bounds a whole request including the streamed body.
	// Default: 5 minutes.
	Timeout time.Duration

	// MaxTokens is used when GenerationParams.MaxTokens is nil. Default: 4096.
	MaxTokens int
}

// AnthropicClient talks to the Anthropic Messages API over raw REST.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
}

// NewAnthropicClient creates a client from cfg.
//
// # Description
//
// Applies defaults for model, endpoint, timeout, and max tokens. The API key
// is not validated against the API here; the first request surfaces a bad key.
//
// # Inputs
//
//   - cfg: Client configuration. APIKey must be non-empty.
//
// # Outputs
//
//   - *AnthropicClient: Ready client.
//   - error: Non-nil when the API key is missing.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}
	if cfg.Model == "" {
		cfg.Model = defaultClaudeModel
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", cfg.Model)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
	}, nil
}

// Generate implements the LLMClient interface.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return a.Chat(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements the LLMClient interface.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "AnthropicClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", a.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	resp, err := a.send(ctx, a.buildRequest(messages, params, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if apiResp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.input_tokens", apiResp.Usage.InputTokens),
			attribute.Int("llm.output_tokens", apiResp.Usage.OutputTokens),
		)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("received content but no text block found")
	}
	return sb.String(), nil
}

// ChatStream implements the LLMClient interface.
//
// # Description
//
// Sends the request with stream=true and parses the server-sent event body.
// Text deltas are forwarded as StreamEventToken. Tool input arrives as
// partial JSON fragments, which are buffered per content block and emitted
// as one StreamEventToolCall when the block stops. A final StreamEventUsage
// is emitted after message_stop.
//
// # Outputs
//
//   - error: Transport failures, API "error" events, a body that ends
//     before message_stop, or the first error returned by callback.
//
// # Limitations
//
//   - A tool_use stop reason ends the turn; tool results are not sent back.
func (a *AnthropicClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "AnthropicClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", a.model),
		attribute.Int("llm.num_messages", len(messages)),
		attribute.Int("llm.num_tools", len(params.Tools)),
	)

	resp, err := a.send(ctx, a.buildRequest(messages, params, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	if err := a.consumeStream(resp.Body, callback); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// consumeStream parses SSE frames from body until message_stop.
func (a *AnthropicClient) consumeStream(body io.Reader, callback StreamCallback) error {
	type toolBuffer struct {
		id, name string
		input    strings.Builder
	}

	var (
		usage   Usage
		tools   = make(map[int]*toolBuffer)
		stopped bool
	)

	reader := bufio.NewReaderSize(body, 64*1024)
	for {
		line, readErr := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			var ev anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return fmt.Errorf("failed to parse stream event: %w", err)
			}

			switch ev.Type {
			case "message_start":
				if ev.Message != nil && ev.Message.Usage != nil {
					usage.InputTokens = ev.Message.Usage.InputTokens
					usage.OutputTokens = ev.Message.Usage.OutputTokens
				}
			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
					tools[ev.Index] = &toolBuffer{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				}
			case "content_block_delta":
				if ev.Delta == nil {
					continue
				}
				switch ev.Delta.Type {
				case "text_delta":
					if ev.Delta.Text == "" {
						continue
					}
					if err := callback(StreamEvent{Type: StreamEventToken, Content: ev.Delta.Text}); err != nil {
						return err
					}
				case "input_json_delta":
					if tb, ok := tools[ev.Index]; ok {
						tb.input.WriteString(ev.Delta.PartialJSON)
					}
				}
			case "content_block_stop":
				tb, ok := tools[ev.Index]
				if !ok {
					continue
				}
				delete(tools, ev.Index)
				input := tb.input.String()
				if strings.TrimSpace(input) == "" {
					input = "{}"
				}
				call := &ToolCall{ID: tb.id, Name: tb.name, Input: json.RawMessage(input)}
				if err := callback(StreamEvent{Type: StreamEventToolCall, ToolCall: call}); err != nil {
					return err
				}
			case "message_delta":
				if ev.Usage != nil {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
				if ev.Delta != nil && ev.Delta.StopReason != "" {
					slog.Debug("Anthropic stream stop", "stop_reason", ev.Delta.StopReason)
				}
			case "message_stop":
				stopped = true
			case "error":
				if ev.Error != nil {
					return fmt.Errorf("anthropic stream error: %s - %s", ev.Error.Type, ev.Error.Message)
				}
				return errors.New("anthropic stream error")
			}
		}

		if stopped {
			u := usage
			return callback(StreamEvent{Type: StreamEventUsage, Usage: &u})
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return errors.New("anthropic stream ended before message_stop")
			}
			return fmt.Errorf("failed to read stream: %w", readErr)
		}
	}
}

// buildRequest converts generic messages to the Anthropic wire format.
func (a *AnthropicClient) buildRequest(messages []Message, params GenerationParams, stream bool) anthropicRequest {
	var systemParts []string
	if params.System != "" {
		systemParts = append(systemParts, params.System)
	}

	var apiMessages []anthropicMessage
	for _, msg := range messages {
		role := strings.ToLower(msg.Role)
		if role == "system" {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		// Empty turns are rejected by the API. Dropping one can leave two
		// same-role turns adjacent; the merge below joins them.
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		// The API requires alternating turns; adjacent same-role turns merge.
		if n := len(apiMessages); n > 0 && apiMessages[n-1].Role == role {
			apiMessages[n-1].Content += "\n\n" + msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: role, Content: msg.Content})
	}
	if len(apiMessages) > 0 && apiMessages[0].Role != "user" {
		apiMessages = append([]anthropicMessage{{Role: "user", Content: conversationStartTurn}}, apiMessages...)
	}

	var systemBlocks []systemBlock
	if systemPrompt := strings.Join(systemParts, "\n\n"); systemPrompt != "" {
		block := systemBlock{Type: "text", Text: systemPrompt}
		if len(systemPrompt) > cacheThreshold {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	req := anthropicRequest{
		Model:       a.model,
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   a.maxTokens,
		Tools:       params.Tools,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
		Stream:      stream,
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	return req
}

// send posts payload and returns the response when the status is 200.
// The caller owns the returned body.
func (a *AnthropicClient) send(ctx context.Context, payload anthropicRequest) (*http.Response, error) {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
	if payload.Stream {
		req.Header.Set("accept", "text/event-stream")
	}

	slog.Debug("Sending REST request to Anthropic", "model", a.model, "stream", payload.Stream)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Anthropic returned an error", "status_code", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("anthropic API returned status %d", resp.StatusCode)
	}
	return resp, nil
}

var _ LLMClient = (*AnthropicClient)(nil)
