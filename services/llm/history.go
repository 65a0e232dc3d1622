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

// MessagesToChatHistory drops system messages and keeps the remaining
// messages in their original order with their content unchanged.
//
// The result is never nil; zero remaining messages yields an empty slice.
func MessagesToChatHistory(messages []Message) []Message {
	history := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		history = append(history, m)
	}
	return history
}

// EstimateTokenCount approximates the token count of text as
// ceil(len(text)/4). The empty string counts as zero.
func EstimateTokenCount(text string) int {
	return (len(text) + 3) / 4
}
