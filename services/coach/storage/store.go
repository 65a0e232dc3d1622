// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists the coaching service's entities.
//
// Every tenant-scoped read and write takes the caller's organization ID and
// filters on it; a row belonging to another organization is reported as
// ErrNotFound, never returned.
//
// # Concurrency
//
// Conversations and territory insights carry a version column. Writers that
// pass an expected version get ErrConflict when the row moved on since they
// read it.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
)

var (
	// ErrNotFound is returned when a row does not exist or belongs to
	// another organization.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic concurrency check or a
	// state precondition fails.
	ErrConflict = errors.New("conflict")
)

// ConversationUpdate lists the conversation columns to change. Nil and empty
// fields are left untouched.
type ConversationUpdate struct {
	Title          *string
	Status         *string
	CurrentPhase   *string
	FrameworkState json.RawMessage

	// ExpectedVersion, when set, makes the update conditional on the row's
	// current version.
	ExpectedVersion *int64
}

// Fields returns the column names the update writes, in a fixed order.
func (u ConversationUpdate) Fields() []string {
	var fields []string
	if u.Title != nil {
		fields = append(fields, "title")
	}
	if u.Status != nil {
		fields = append(fields, "status")
	}
	if u.CurrentPhase != nil {
		fields = append(fields, "current_phase")
	}
	if len(u.FrameworkState) > 0 {
		fields = append(fields, "framework_state")
	}
	return fields
}

// MaterialResult is the outcome of processing an upload.
type MaterialResult struct {
	Status       string
	Extracted    *datatypes.ExtractedContext
	ErrorMessage string
}

// Store is the persistence interface used by the HTTP handlers.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Migrate creates missing tables and indexes.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Clients
	CreateClient(ctx context.Context, client *datatypes.Client) error
	GetClientByOrg(ctx context.Context, orgID string) (*datatypes.Client, error)

	// Onboarding
	CreateOnboarding(ctx context.Context, o *datatypes.ClientOnboarding) error
	GetOnboarding(ctx context.Context, id string) (*datatypes.ClientOnboarding, error)
	FindOnboardingByProvisionedOrg(ctx context.Context, orgID string) (*datatypes.ClientOnboarding, error)
	ListOnboarding(ctx context.Context, status string) ([]datatypes.ClientOnboarding, error)

	// UpdateOnboarding writes o if the stored status still equals
	// fromStatus; otherwise it returns ErrConflict.
	UpdateOnboarding(ctx context.Context, o *datatypes.ClientOnboarding, fromStatus string) error

	// ProvisionOnboarding atomically marks an approved onboarding record as
	// provisioned for client.ClerkOrgID and creates the client row.
	// ErrConflict is returned when the record is not approved, was already
	// provisioned, or the organization already has a client.
	ProvisionOnboarding(ctx context.Context, onboardingID string, client *datatypes.Client) (*datatypes.ClientOnboarding, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *datatypes.Conversation) error
	GetConversation(ctx context.Context, orgID, id string) (*datatypes.Conversation, error)
	ListConversations(ctx context.Context, orgID, status string) ([]datatypes.Conversation, error)

	// UpdateConversation applies upd and bumps the version. On ErrConflict
	// the returned conversation is the current row.
	UpdateConversation(ctx context.Context, orgID, id string, upd ConversationUpdate) (*datatypes.Conversation, error)

	// Messages
	InsertMessage(ctx context.Context, msg *datatypes.ConversationMessage) error
	ListMessages(ctx context.Context, orgID, conversationID string) ([]datatypes.ConversationMessage, error)
	CountMessages(ctx context.Context, orgID, conversationID string) (int, error)

	// Materials
	InsertMaterial(ctx context.Context, m *datatypes.UploadedMaterial) error
	UpdateMaterialStatus(ctx context.Context, orgID, id string, result MaterialResult) error
	ListMaterials(ctx context.Context, orgID, conversationID string) ([]datatypes.UploadedMaterial, error)

	// Territory insights
	UpsertTerritoryInsight(ctx context.Context, insight *datatypes.TerritoryInsight, expectedVersion *int64) error
	ListTerritoryInsights(ctx context.Context, orgID, conversationID string) ([]datatypes.TerritoryInsight, error)
	GetTerritoryInsight(ctx context.Context, orgID, conversationID, territory, area string) (*datatypes.TerritoryInsight, error)

	// Generated documents
	InsertSynthesis(ctx context.Context, s *datatypes.SynthesisOutput) error
	LatestSynthesis(ctx context.Context, orgID, conversationID string) (*datatypes.SynthesisOutput, error)
	InsertArtefact(ctx context.Context, a *datatypes.StrategicArtefact) error
	ListArtefacts(ctx context.Context, orgID, conversationID string) ([]datatypes.StrategicArtefact, error)
	GetArtefactByShareToken(ctx context.Context, token string) (*datatypes.StrategicArtefact, error)
	InsertStrategyDocument(ctx context.Context, d *datatypes.StrategyDocument) error
	LatestStrategyDocument(ctx context.Context, orgID, conversationID string) (*datatypes.StrategyDocument, error)
}

// nowMillis is the store clock, truncated to what the schema keeps.
func nowMillis(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Millisecond)
}
