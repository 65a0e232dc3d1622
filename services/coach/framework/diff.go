// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package framework

import (
	"sort"

	"github.com/frontera-labs/frontera/pkg/extensions"
)

// Event is an analytics event derived from a state change.
type Event struct {
	Name       string
	Properties map[string]any
}

// Diff compares two coaching states and returns the analytics events the
// change implies, in a stable order: phase transition, pillar activations,
// canvas updates, new bets.
//
// Non-coaching states produce no events.
func Diff(oldState, newState State) []Event {
	prev, ok1 := oldState.(*CoachState)
	next, ok2 := newState.(*CoachState)
	if !ok1 || !ok2 {
		return nil
	}

	var events []Event

	if prev.Phase != next.Phase {
		events = append(events, Event{
			Name:       extensions.EventPhaseTransition,
			Properties: map[string]any{"from_phase": string(prev.Phase), "to_phase": string(next.Phase)},
		})
	}

	for _, territory := range sortedKeys(next.Pillars) {
		before := prev.Pillars[territory].Status
		after := next.Pillars[territory].Status
		if (before == "" || before == PillarUnexplored) && after != "" && after != PillarUnexplored {
			events = append(events, Event{
				Name:       extensions.EventPillarActivated,
				Properties: map[string]any{"pillar": territory},
			})
		}
	}

	for _, section := range sortedKeys(next.Canvas) {
		if prev.Canvas[section].Content != next.Canvas[section].Content {
			events = append(events, Event{
				Name:       extensions.EventCanvasUpdated,
				Properties: map[string]any{"section": section},
			})
		}
	}

	for _, bet := range next.Bets {
		if _, existed := prev.FindBet(bet.ID); !existed {
			events = append(events, Event{
				Name:       extensions.EventBetCreated,
				Properties: map[string]any{"bet_id": bet.ID, "title": bet.Title},
			})
		}
	}

	return events
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
