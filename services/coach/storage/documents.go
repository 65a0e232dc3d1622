// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
)

// =============================================================================
// Synthesis
// =============================================================================

// InsertSynthesis implements Store.
func (s *SQLStore) InsertSynthesis(ctx context.Context, out *datatypes.SynthesisOutput) error {
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.CreatedAt = s.stamp()
	content, err := jsonArg(out.Content, false)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO synthesis_outputs
		(id, conversation_id, clerk_org_id, content, structured, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.ConversationID, out.ClerkOrgID, content, out.Structured, out.CreatedBy,
		millis(out.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert synthesis: %w", err)
	}
	return nil
}

// LatestSynthesis implements Store.
func (s *SQLStore) LatestSynthesis(ctx context.Context, orgID, conversationID string) (*datatypes.SynthesisOutput, error) {
	var (
		out     datatypes.SynthesisOutput
		content []byte
		created int64
	)
	err := s.queryRow(ctx, s.db, `SELECT id, conversation_id, clerk_org_id, content, structured, created_by, created_at
		FROM synthesis_outputs
		WHERE conversation_id = ? AND clerk_org_id = ?
		ORDER BY created_at DESC LIMIT 1`, conversationID, orgID).
		Scan(&out.ID, &out.ConversationID, &out.ClerkOrgID, &content, &out.Structured, &out.CreatedBy, &created)
	if err != nil {
		return nil, notFound(err, "synthesis")
	}
	if err := decodeJSON(content, &out.Content); err != nil {
		return nil, err
	}
	out.CreatedAt = fromMillis(created)
	return &out, nil
}

// =============================================================================
// Artefacts
// =============================================================================

const artefactColumns = `id, conversation_id, clerk_org_id, artefact_type, bet_id, audience, title, content,
	structured, missing_fields, share_token, created_by, created_at`

// InsertArtefact implements Store.
func (s *SQLStore) InsertArtefact(ctx context.Context, a *datatypes.StrategicArtefact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.stamp()
	content, err := jsonArg(a.Content, false)
	if err != nil {
		return err
	}
	missing, err := jsonArg(a.MissingFields, true)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO strategic_artefacts (`+artefactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ConversationID, a.ClerkOrgID, a.ArtefactType, nullString(a.BetID), nullString(a.Audience),
		a.Title, content, a.Structured, missing, a.ShareToken, a.CreatedBy, millis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert artefact: %w", err)
	}
	return nil
}

// ListArtefacts implements Store. Newest first.
func (s *SQLStore) ListArtefacts(ctx context.Context, orgID, conversationID string) ([]datatypes.StrategicArtefact, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+artefactColumns+` FROM strategic_artefacts
		WHERE conversation_id = ? AND clerk_org_id = ?
		ORDER BY created_at DESC, id`, conversationID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list artefacts: %w", err)
	}
	defer rows.Close()

	out := []datatypes.StrategicArtefact{}
	for rows.Next() {
		a, err := scanArtefact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artefact: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetArtefactByShareToken implements Store. It is the only unscoped read:
// the token itself is the capability.
func (s *SQLStore) GetArtefactByShareToken(ctx context.Context, token string) (*datatypes.StrategicArtefact, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+artefactColumns+` FROM strategic_artefacts WHERE share_token = ?`, token)
	a, err := scanArtefact(row)
	if err != nil {
		return nil, notFound(err, "artefact")
	}
	return a, nil
}

func scanArtefact(row scanner) (*datatypes.StrategicArtefact, error) {
	var (
		a                datatypes.StrategicArtefact
		betID, audience  sql.NullString
		content, missing []byte
		created          int64
	)
	if err := row.Scan(&a.ID, &a.ConversationID, &a.ClerkOrgID, &a.ArtefactType, &betID, &audience,
		&a.Title, &content, &a.Structured, &missing, &a.ShareToken, &a.CreatedBy, &created); err != nil {
		return nil, err
	}
	a.BetID, a.Audience = betID.String, audience.String
	if err := decodeJSON(content, &a.Content); err != nil {
		return nil, err
	}
	if err := decodeJSON(missing, &a.MissingFields); err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(created)
	return &a, nil
}

// =============================================================================
// Strategy documents
// =============================================================================

// InsertStrategyDocument implements Store.
func (s *SQLStore) InsertStrategyDocument(ctx context.Context, d *datatypes.StrategyDocument) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.SelectedBetIDs == nil {
		d.SelectedBetIDs = []string{}
	}
	d.CreatedAt = s.stamp()
	bets, err := jsonArg(d.SelectedBetIDs, false)
	if err != nil {
		return err
	}
	content, err := jsonArg(d.DocumentContent, false)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO strategy_documents
		(id, conversation_id, clerk_org_id, title, selected_bet_ids, document_content, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ConversationID, d.ClerkOrgID, d.Title, bets, content, d.CreatedBy, millis(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert strategy document: %w", err)
	}
	return nil
}

// LatestStrategyDocument implements Store.
func (s *SQLStore) LatestStrategyDocument(ctx context.Context, orgID, conversationID string) (*datatypes.StrategyDocument, error) {
	var (
		d             datatypes.StrategyDocument
		bets, content []byte
		created       int64
	)
	err := s.queryRow(ctx, s.db, `SELECT id, conversation_id, clerk_org_id, title, selected_bet_ids,
			document_content, created_by, created_at
		FROM strategy_documents
		WHERE conversation_id = ? AND clerk_org_id = ?
		ORDER BY created_at DESC LIMIT 1`, conversationID, orgID).
		Scan(&d.ID, &d.ConversationID, &d.ClerkOrgID, &d.Title, &bets, &content, &d.CreatedBy, &created)
	if err != nil {
		return nil, notFound(err, "strategy document")
	}
	if err := decodeJSON(bets, &d.SelectedBetIDs); err != nil {
		return nil, err
	}
	if err := decodeJSON(content, &d.DocumentContent); err != nil {
		return nil, err
	}
	d.CreatedAt = fromMillis(created)
	return &d, nil
}
