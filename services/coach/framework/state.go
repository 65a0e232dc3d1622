// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package framework owns the per-conversation framework state document.
//
// The state is a tagged union selected by the conversation's agent type:
//
//   - strategy_coach: *CoachState (phases, pillars, research, bets, canvas)
//   - profiling:      *ProfileState (counters and the profile summary)
//   - anything else:  *OpaqueState (raw JSON object, counters only)
//
// State is parsed and validated on every read (Parse), changed only through
// Reduce, and serialised with Marshal. Documents written before versioning
// are migrated on read.
package framework

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frontera-labs/frontera/services/coach/research"
)

// Agent types with a typed state.
const (
	AgentStrategyCoach = "strategy_coach"
	AgentProfiling     = "profiling"
)

// CurrentVersion is the state document version this package writes.
const CurrentVersion = 1

var (
	// ErrInvalidState is returned when a stored document fails validation.
	ErrInvalidState = errors.New("invalid framework state")

	// ErrUnsupportedVersion is returned for documents newer than CurrentVersion.
	ErrUnsupportedVersion = errors.New("unsupported framework state version")
)

// =============================================================================
// Phases
// =============================================================================

// Phase is a coaching phase. Phases are ordered.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhaseResearch  Phase = "research"
	PhaseSynthesis Phase = "synthesis"
	PhaseBets      Phase = "bets"
)

var phaseOrder = []Phase{PhaseDiscovery, PhaseResearch, PhaseSynthesis, PhaseBets}

// ParsePhase returns the phase named s.
func ParsePhase(s string) (Phase, bool) {
	for _, p := range phaseOrder {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

func (p Phase) index() int {
	for i, q := range phaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// =============================================================================
// State types
// =============================================================================

// State is one of *CoachState, *ProfileState or *OpaqueState.
type State interface {
	// AgentType returns the agent type the state belongs to.
	AgentType() string

	// CurrentPhase returns the coaching phase, or "" for agent types
	// without phases.
	CurrentPhase() Phase

	clone() State
}

// Pillar statuses.
const (
	PillarUnexplored = "unexplored"
	PillarInProgress = "in_progress"
	PillarMapped     = "mapped"
)

// PillarProgress tracks one research territory.
type PillarProgress struct {
	Status         string     `json:"status"`
	ActivatedAt    *time.Time `json:"activatedAt,omitempty"`
	CompletedAreas []string   `json:"completedAreas,omitempty"`
}

// Insight is a captured research answer.
type Insight struct {
	Territory     string    `json:"territory"`
	Area          string    `json:"researchArea"`
	QuestionIndex int       `json:"questionIndex"`
	Text          string    `json:"text"`
	Confidence    string    `json:"confidence,omitempty"`
	CapturedAt    time.Time `json:"capturedAt"`
}

// Bet is a strategic bet proposed in the bets phase.
type Bet struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Hypothesis    string    `json:"hypothesis,omitempty"`
	Territory     string    `json:"territory,omitempty"`
	SuccessMetric string    `json:"successMetric,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CanvasSection is one section of the strategy canvas.
type CanvasSection struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PhaseChange records one phase navigation.
type PhaseChange struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// CoachState is the state of a strategy_coach conversation.
type CoachState struct {
	Version          int                       `json:"version"`
	Phase            Phase                     `json:"currentPhase"`
	Pillars          map[string]PillarProgress `json:"pillars,omitempty"`
	Insights         []Insight                 `json:"insights,omitempty"`
	Bets             []Bet                     `json:"bets,omitempty"`
	Canvas           map[string]CanvasSection  `json:"canvas,omitempty"`
	MessageCount     int                       `json:"messageCount"`
	UserMessageCount int                       `json:"userMessageCount"`
	LastActivityAt   *time.Time                `json:"lastActivityAt,omitempty"`
	PhaseHistory     []PhaseChange             `json:"phaseHistory,omitempty"`
}

// AgentType implements State.
func (s *CoachState) AgentType() string { return AgentStrategyCoach }

// CurrentPhase implements State.
func (s *CoachState) CurrentPhase() Phase { return s.Phase }

func (s *CoachState) clone() State {
	c := *s
	if s.Pillars != nil {
		c.Pillars = make(map[string]PillarProgress, len(s.Pillars))
		for k, v := range s.Pillars {
			v.CompletedAreas = append([]string(nil), v.CompletedAreas...)
			c.Pillars[k] = v
		}
	}
	if s.Canvas != nil {
		c.Canvas = make(map[string]CanvasSection, len(s.Canvas))
		for k, v := range s.Canvas {
			c.Canvas[k] = v
		}
	}
	c.Insights = append([]Insight(nil), s.Insights...)
	c.Bets = append([]Bet(nil), s.Bets...)
	c.PhaseHistory = append([]PhaseChange(nil), s.PhaseHistory...)
	return &c
}

// FindBet returns the bet with the given ID.
func (s *CoachState) FindBet(id string) (Bet, bool) {
	for _, b := range s.Bets {
		if b.ID == id {
			return b, true
		}
	}
	return Bet{}, false
}

// ProfileState is the state of a profiling conversation.
//
// A freshly created profile serialises to {}.
type ProfileState struct {
	Version          int        `json:"version,omitempty"`
	MessageCount     int        `json:"messageCount,omitempty"`
	UserMessageCount int        `json:"userMessageCount,omitempty"`
	LastActivityAt   *time.Time `json:"lastActivityAt,omitempty"`
	ProfileSummary   string     `json:"profileSummary,omitempty"`
	ProfileComplete  bool       `json:"profileComplete,omitempty"`
}

// AgentType implements State.
func (s *ProfileState) AgentType() string { return AgentProfiling }

// CurrentPhase implements State.
func (s *ProfileState) CurrentPhase() Phase { return "" }

func (s *ProfileState) clone() State {
	c := *s
	return &c
}

// OpaqueState holds the state of agent types without a typed schema.
type OpaqueState struct {
	Agent  string
	Fields map[string]any
}

// AgentType implements State.
func (s *OpaqueState) AgentType() string { return s.Agent }

// CurrentPhase implements State.
func (s *OpaqueState) CurrentPhase() Phase { return "" }

func (s *OpaqueState) clone() State {
	c := &OpaqueState{Agent: s.Agent, Fields: make(map[string]any, len(s.Fields))}
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	return c
}

// MarshalJSON writes the raw field map.
func (s *OpaqueState) MarshalJSON() ([]byte, error) {
	if s.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.Fields)
}

// =============================================================================
// Construction and (de)serialisation
// =============================================================================

// Initial returns the state of a newly created conversation.
//
// A strategy_coach conversation starts at version 1 in the discovery phase;
// every other agent type starts with an empty document.
func Initial(agentType string) State {
	switch agentType {
	case AgentStrategyCoach:
		return &CoachState{Version: CurrentVersion, Phase: PhaseDiscovery}
	case AgentProfiling:
		return &ProfileState{}
	default:
		return &OpaqueState{Agent: agentType, Fields: map[string]any{}}
	}
}

// Marshal serialises a state document.
func Marshal(s State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal framework state: %w", err)
	}
	return data, nil
}

// Parse decodes and validates a stored document.
//
// # Description
//
// Empty input and JSON null parse as Initial(agentType). Documents with no
// version (or version 0) are migrated: snake_case keys are renamed and an
// unknown phase falls back to discovery. Documents whose version is newer
// than CurrentVersion are rejected.
//
// # Outputs
//
//   - State: Always the concrete type for agentType.
//   - error: ErrInvalidState (wrapped) for malformed documents,
//     ErrUnsupportedVersion for future versions.
func Parse(agentType string, raw []byte) (State, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Initial(agentType), nil
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidState)
	}

	switch agentType {
	case AgentStrategyCoach:
		return parseCoach(fields)
	case AgentProfiling:
		return parseProfile(fields)
	default:
		return &OpaqueState{Agent: agentType, Fields: fields}, nil
	}
}

// legacyKeys maps pre-version snake_case keys to their current names.
var legacyKeys = map[string]string{
	"current_phase":      "currentPhase",
	"message_count":      "messageCount",
	"user_message_count": "userMessageCount",
	"last_activity_at":   "lastActivityAt",
	"phase_history":      "phaseHistory",
	"profile_summary":    "profileSummary",
	"profile_complete":   "profileComplete",
}

func documentVersion(fields map[string]any) (int, error) {
	v, ok := fields["version"]
	if !ok || v == nil {
		return 0, nil
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) || f < 0 {
		return 0, fmt.Errorf("%w: version %v", ErrInvalidState, v)
	}
	version := int(f)
	if version > CurrentVersion {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return version, nil
}

func migrateLegacy(fields map[string]any) {
	for old, cur := range legacyKeys {
		if v, ok := fields[old]; ok {
			if _, exists := fields[cur]; !exists {
				fields[cur] = v
			}
			delete(fields, old)
		}
	}
	fields["version"] = CurrentVersion
}

func parseCoach(fields map[string]any) (State, error) {
	version, err := documentVersion(fields)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		migrateLegacy(fields)
		if p, _ := fields["currentPhase"].(string); p == "" || !isPhase(p) {
			fields["currentPhase"] = string(PhaseDiscovery)
		}
		// Legacy insights and bets had no stable shape.
		delete(fields, "insights")
		delete(fields, "bets")
	}

	var s CoachState
	if err := remarshal(fields, &s); err != nil {
		return nil, err
	}
	if s.Phase.index() < 0 {
		return nil, fmt.Errorf("%w: phase %q", ErrInvalidState, s.Phase)
	}
	if s.MessageCount < 0 || s.UserMessageCount < 0 || s.UserMessageCount > s.MessageCount {
		return nil, fmt.Errorf("%w: message counters", ErrInvalidState)
	}
	for territory, p := range s.Pillars {
		if !validTerritory(territory) {
			return nil, fmt.Errorf("%w: pillar %q", ErrInvalidState, territory)
		}
		switch p.Status {
		case PillarUnexplored, PillarInProgress, PillarMapped:
		default:
			return nil, fmt.Errorf("%w: pillar status %q", ErrInvalidState, p.Status)
		}
	}
	for section := range s.Canvas {
		if !isCanvasSection(section) {
			return nil, fmt.Errorf("%w: canvas section %q", ErrInvalidState, section)
		}
	}
	return &s, nil
}

func parseProfile(fields map[string]any) (State, error) {
	version, err := documentVersion(fields)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		migrateLegacy(fields)
	}
	var s ProfileState
	if err := remarshal(fields, &s); err != nil {
		return nil, err
	}
	if s.MessageCount < 0 || s.UserMessageCount < 0 {
		return nil, fmt.Errorf("%w: message counters", ErrInvalidState)
	}
	return &s, nil
}

func remarshal(fields map[string]any, dst any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}

func isPhase(s string) bool {
	_, ok := ParsePhase(s)
	return ok
}

func validTerritory(s string) bool {
	return research.Territory(s).Valid()
}
