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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frontera-labs/frontera/services/coach/research"
)

var (
	// ErrInvalidTransition is returned for phase changes the coaching flow
	// does not allow.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrUnsupportedAction is returned when an action does not apply to the
	// state's agent type.
	ErrUnsupportedAction = errors.New("action not supported for agent type")

	// ErrInvalidAction is returned for actions with invalid payloads.
	ErrInvalidAction = errors.New("invalid action")
)

// Canvas sections, following the Playing to Win cascade.
const (
	CanvasWinningAspiration = "winning_aspiration"
	CanvasWhereToPlay       = "where_to_play"
	CanvasHowToWin          = "how_to_win"
	CanvasCapabilities      = "capabilities"
	CanvasManagementSystems = "management_systems"
)

// CanvasSections lists the canvas sections in cascade order.
var CanvasSections = []string{
	CanvasWinningAspiration,
	CanvasWhereToPlay,
	CanvasHowToWin,
	CanvasCapabilities,
	CanvasManagementSystems,
}

func isCanvasSection(s string) bool {
	for _, c := range CanvasSections {
		if c == s {
			return true
		}
	}
	return false
}

// =============================================================================
// Actions
// =============================================================================

// Action is a state change request applied by Reduce.
type Action interface {
	actionName() string
}

// MessageExchanged records persisted chat messages.
type MessageExchanged struct {
	UserMessages      int
	AssistantMessages int
	At                time.Time
}

// PhaseChanged moves a coaching conversation to another phase.
type PhaseChanged struct {
	To Phase
	At time.Time
}

// ResearchCaptured records one research answer.
type ResearchCaptured struct {
	Capture research.Capture
	At      time.Time
}

// AreaCompleted marks one research area complete.
type AreaCompleted struct {
	Ref research.AreaRef
	At  time.Time
}

// PillarActivated marks a territory as being explored.
type PillarActivated struct {
	Territory research.Territory
	At        time.Time
}

// BetAdded appends a strategic bet. Bet.ID must be unique.
type BetAdded struct {
	Bet Bet
}

// CanvasUpdated replaces one canvas section.
type CanvasUpdated struct {
	Section string
	Content string
	At      time.Time
}

// ProfileSummarized stores the profiling summary.
type ProfileSummarized struct {
	Summary  string
	Complete bool
	At       time.Time
}

func (MessageExchanged) actionName() string  { return "message_exchanged" }
func (PhaseChanged) actionName() string      { return "phase_changed" }
func (ResearchCaptured) actionName() string  { return "research_captured" }
func (AreaCompleted) actionName() string     { return "area_completed" }
func (PillarActivated) actionName() string   { return "pillar_activated" }
func (BetAdded) actionName() string          { return "bet_added" }
func (CanvasUpdated) actionName() string     { return "canvas_updated" }
func (ProfileSummarized) actionName() string { return "profile_summarized" }

// =============================================================================
// Reducer
// =============================================================================

// Reduce applies a to s and returns the new state.
//
// # Description
//
// s is never modified. On error the returned state is nil and the caller
// keeps using s.
//
// # Outputs
//
//   - State: The updated copy.
//   - error: ErrInvalidTransition, ErrUnsupportedAction or ErrInvalidAction
//     (wrapped with detail).
func Reduce(s State, a Action) (State, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil state", ErrInvalidState)
	}
	next := s.clone()

	var err error
	switch st := next.(type) {
	case *CoachState:
		err = reduceCoach(st, a)
	case *ProfileState:
		err = reduceProfile(st, a)
	case *OpaqueState:
		err = reduceOpaque(st, a)
	default:
		err = fmt.Errorf("%w: %T", ErrInvalidState, s)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func reduceCoach(s *CoachState, a Action) error {
	s.Version = CurrentVersion

	switch act := a.(type) {
	case MessageExchanged:
		if act.UserMessages < 0 || act.AssistantMessages < 0 {
			return fmt.Errorf("%w: negative message count", ErrInvalidAction)
		}
		s.MessageCount += act.UserMessages + act.AssistantMessages
		s.UserMessageCount += act.UserMessages
		at := act.At
		s.LastActivityAt = &at

	case PhaseChanged:
		from := s.Phase
		if act.To.index() < 0 {
			return fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, act.To)
		}
		if act.To == from {
			return nil
		}
		// Forward one step at a time; backwards to any earlier phase.
		if act.To.index() != from.index()+1 && act.To.index() > from.index() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, act.To)
		}
		s.Phase = act.To
		s.PhaseHistory = append(s.PhaseHistory, PhaseChange{From: from, To: act.To, At: act.At})

	case ResearchCaptured:
		c := act.Capture
		if !research.ValidQuestionIndex(c.Territory, c.Area, c.QuestionIndex) {
			return fmt.Errorf("%w: no question %s/%s/%d", ErrInvalidAction, c.Territory, c.Area, c.QuestionIndex)
		}
		if strings.TrimSpace(c.Answer) == "" {
			return fmt.Errorf("%w: empty answer", ErrInvalidAction)
		}
		s.activatePillar(c.Territory, act.At)
		insight := Insight{
			Territory:     string(c.Territory),
			Area:          c.Area,
			QuestionIndex: c.QuestionIndex,
			Text:          c.Answer,
			Confidence:    string(c.Confidence),
			CapturedAt:    act.At,
		}
		for i, existing := range s.Insights {
			if existing.Territory == insight.Territory && existing.Area == insight.Area &&
				existing.QuestionIndex == insight.QuestionIndex {
				s.Insights[i] = insight
				return nil
			}
		}
		s.Insights = append(s.Insights, insight)

	case AreaCompleted:
		def := research.GetTerritory(act.Ref.Territory)
		if def == nil || research.GetResearchArea(act.Ref.Territory, act.Ref.Area) == nil {
			return fmt.Errorf("%w: no area %s/%s", ErrInvalidAction, act.Ref.Territory, act.Ref.Area)
		}
		s.activatePillar(act.Ref.Territory, act.At)
		p := s.Pillars[string(act.Ref.Territory)]
		if !contains(p.CompletedAreas, act.Ref.Area) {
			p.CompletedAreas = append(p.CompletedAreas, act.Ref.Area)
		}
		if len(p.CompletedAreas) >= len(def.Areas) {
			p.Status = PillarMapped
		}
		s.Pillars[string(act.Ref.Territory)] = p

	case PillarActivated:
		if !act.Territory.Valid() {
			return fmt.Errorf("%w: unknown territory %q", ErrInvalidAction, act.Territory)
		}
		s.activatePillar(act.Territory, act.At)

	case BetAdded:
		b := act.Bet
		b.Title = strings.TrimSpace(b.Title)
		if b.ID == "" || b.Title == "" {
			return fmt.Errorf("%w: bet needs an id and a title", ErrInvalidAction)
		}
		if b.Territory != "" && !research.Territory(b.Territory).Valid() {
			return fmt.Errorf("%w: unknown territory %q", ErrInvalidAction, b.Territory)
		}
		if _, exists := s.FindBet(b.ID); exists {
			return fmt.Errorf("%w: duplicate bet %s", ErrInvalidAction, b.ID)
		}
		s.Bets = append(s.Bets, b)

	case CanvasUpdated:
		if !isCanvasSection(act.Section) {
			return fmt.Errorf("%w: unknown canvas section %q", ErrInvalidAction, act.Section)
		}
		if s.Canvas == nil {
			s.Canvas = make(map[string]CanvasSection)
		}
		s.Canvas[act.Section] = CanvasSection{Content: act.Content, UpdatedAt: act.At}

	default:
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, a.actionName(), AgentStrategyCoach)
	}
	return nil
}

func (s *CoachState) activatePillar(t research.Territory, at time.Time) {
	if s.Pillars == nil {
		s.Pillars = make(map[string]PillarProgress)
	}
	p := s.Pillars[string(t)]
	if p.Status == "" || p.Status == PillarUnexplored {
		p.Status = PillarInProgress
		stamp := at
		p.ActivatedAt = &stamp
	}
	s.Pillars[string(t)] = p
}

func reduceProfile(s *ProfileState, a Action) error {
	s.Version = CurrentVersion

	switch act := a.(type) {
	case MessageExchanged:
		if act.UserMessages < 0 || act.AssistantMessages < 0 {
			return fmt.Errorf("%w: negative message count", ErrInvalidAction)
		}
		s.MessageCount += act.UserMessages + act.AssistantMessages
		s.UserMessageCount += act.UserMessages
		at := act.At
		s.LastActivityAt = &at
	case ProfileSummarized:
		summary := strings.TrimSpace(act.Summary)
		if summary == "" {
			return fmt.Errorf("%w: empty profile summary", ErrInvalidAction)
		}
		s.ProfileSummary = summary
		s.ProfileComplete = s.ProfileComplete || act.Complete
	default:
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, a.actionName(), AgentProfiling)
	}
	return nil
}

func reduceOpaque(s *OpaqueState, a Action) error {
	act, ok := a.(MessageExchanged)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, a.actionName(), s.Agent)
	}
	if act.UserMessages < 0 || act.AssistantMessages < 0 {
		return fmt.Errorf("%w: negative message count", ErrInvalidAction)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]any)
	}
	s.Fields["messageCount"] = numberField(s.Fields["messageCount"]) + act.UserMessages + act.AssistantMessages
	s.Fields["userMessageCount"] = numberField(s.Fields["userMessageCount"]) + act.UserMessages
	s.Fields["lastActivityAt"] = act.At.UTC().Format(time.RFC3339Nano)
	return nil
}

func numberField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
