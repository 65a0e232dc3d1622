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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
)

// =============================================================================
// Materials
// =============================================================================

const materialColumns = `id, conversation_id, clerk_org_id, uploaded_by, filename, file_type, file_size,
	source_url, processing_status, extracted_context, error_message, created_at, updated_at`

// InsertMaterial implements Store.
func (s *SQLStore) InsertMaterial(ctx context.Context, m *datatypes.UploadedMaterial) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ProcessingStatus == "" {
		m.ProcessingStatus = datatypes.MaterialPending
	}
	now := s.stamp()
	m.CreatedAt, m.UpdatedAt = now, now

	extracted, err := extractedArg(m.ExtractedContext)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO uploaded_materials (`+materialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.ClerkOrgID, m.UploadedBy, m.Filename, m.FileType, m.FileSize,
		nullString(m.SourceURL), m.ProcessingStatus, extracted, nullString(m.ErrorMessage),
		millis(now), millis(now))
	if err != nil {
		return fmt.Errorf("insert material: %w", err)
	}
	return nil
}

// UpdateMaterialStatus implements Store.
func (s *SQLStore) UpdateMaterialStatus(ctx context.Context, orgID, id string, result MaterialResult) error {
	extracted, err := extractedArg(result.Extracted)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, `UPDATE uploaded_materials
		SET processing_status = ?, extracted_context = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND clerk_org_id = ?`,
		result.Status, extracted, nullString(result.ErrorMessage), millis(s.stamp()), id, orgID)
	if err != nil {
		return fmt.Errorf("update material: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("material %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListMaterials implements Store. Materials are returned oldest first.
func (s *SQLStore) ListMaterials(ctx context.Context, orgID, conversationID string) ([]datatypes.UploadedMaterial, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+materialColumns+` FROM uploaded_materials
		WHERE conversation_id = ? AND clerk_org_id = ?
		ORDER BY created_at, id`, conversationID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	out := []datatypes.UploadedMaterial{}
	for rows.Next() {
		var (
			m                     datatypes.UploadedMaterial
			sourceURL, errMessage sql.NullString
			extracted             []byte
			created, updated      int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ClerkOrgID, &m.UploadedBy, &m.Filename,
			&m.FileType, &m.FileSize, &sourceURL, &m.ProcessingStatus, &extracted, &errMessage,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		m.SourceURL, m.ErrorMessage = sourceURL.String, errMessage.String
		if len(extracted) > 0 {
			m.ExtractedContext = &datatypes.ExtractedContext{}
			if err := decodeJSON(extracted, m.ExtractedContext); err != nil {
				return nil, err
			}
		}
		m.CreatedAt, m.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

func extractedArg(ec *datatypes.ExtractedContext) (any, error) {
	if ec == nil {
		return nil, nil
	}
	return jsonArg(ec, false)
}

// =============================================================================
// Territory insights
// =============================================================================

const insightColumns = `id, conversation_id, clerk_org_id, territory, research_area, responses, confidence,
	status, version, created_at, updated_at`

// UpsertTerritoryInsight implements Store.
//
// # Description
//
// The record is replaced whole; there is no per-question merge. Without an
// expected version the write is an unconditional upsert keyed by
// (conversation_id, territory, research_area). With one, version 0 means
// "create only" and any other value must match the stored version.
//
// On success insight carries the stored ID, version and timestamps.
func (s *SQLStore) UpsertTerritoryInsight(ctx context.Context, insight *datatypes.TerritoryInsight, expectedVersion *int64) error {
	if insight.Responses == nil {
		insight.Responses = map[int]string{}
	}
	if insight.Confidence == nil {
		insight.Confidence = map[int]string{}
	}
	if insight.Status == "" {
		insight.Status = datatypes.InsightInProgress
	}
	responses, err := jsonArg(insight.Responses, false)
	if err != nil {
		return err
	}
	confidence, err := jsonArg(insight.Confidence, false)
	if err != nil {
		return err
	}
	now := millis(s.stamp())

	var res sql.Result
	switch {
	case expectedVersion == nil:
		res, err = s.exec(ctx, s.db, `INSERT INTO territory_insights (`+insightColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (conversation_id, territory, research_area) DO UPDATE SET
				responses = excluded.responses,
				confidence = excluded.confidence,
				status = excluded.status,
				version = territory_insights.version + 1,
				updated_at = excluded.updated_at
			WHERE territory_insights.clerk_org_id = excluded.clerk_org_id`,
			uuid.NewString(), insight.ConversationID, insight.ClerkOrgID, insight.Territory,
			insight.ResearchArea, responses, confidence, insight.Status, now, now)

	case *expectedVersion == 0:
		res, err = s.exec(ctx, s.db, `INSERT INTO territory_insights (`+insightColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (conversation_id, territory, research_area) DO NOTHING`,
			uuid.NewString(), insight.ConversationID, insight.ClerkOrgID, insight.Territory,
			insight.ResearchArea, responses, confidence, insight.Status, now, now)

	default:
		res, err = s.exec(ctx, s.db, `UPDATE territory_insights
			SET responses = ?, confidence = ?, status = ?, version = version + 1, updated_at = ?
			WHERE conversation_id = ? AND territory = ? AND research_area = ?
				AND clerk_org_id = ? AND version = ?`,
			responses, confidence, insight.Status, now,
			insight.ConversationID, insight.Territory, insight.ResearchArea,
			insight.ClerkOrgID, *expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("upsert territory insight: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert territory insight: %w", err)
	}
	stored, getErr := s.GetTerritoryInsight(ctx, insight.ClerkOrgID, insight.ConversationID,
		insight.Territory, insight.ResearchArea)
	if n == 0 {
		current := int64(0)
		if getErr == nil {
			current = stored.Version
			insight.Version = current
		}
		return fmt.Errorf("territory insight %s/%s is at version %d: %w",
			insight.Territory, insight.ResearchArea, current, ErrConflict)
	}
	if getErr != nil {
		return getErr
	}
	*insight = *stored
	return nil
}

// ListTerritoryInsights implements Store.
func (s *SQLStore) ListTerritoryInsights(ctx context.Context, orgID, conversationID string) ([]datatypes.TerritoryInsight, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+insightColumns+` FROM territory_insights
		WHERE conversation_id = ? AND clerk_org_id = ?
		ORDER BY territory, research_area`, conversationID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list territory insights: %w", err)
	}
	defer rows.Close()

	out := []datatypes.TerritoryInsight{}
	for rows.Next() {
		ti, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan territory insight: %w", err)
		}
		out = append(out, *ti)
	}
	return out, rows.Err()
}

// GetTerritoryInsight implements Store.
func (s *SQLStore) GetTerritoryInsight(ctx context.Context, orgID, conversationID, territory, area string) (*datatypes.TerritoryInsight, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+insightColumns+` FROM territory_insights
		WHERE conversation_id = ? AND territory = ? AND research_area = ? AND clerk_org_id = ?`,
		conversationID, territory, area, orgID)
	ti, err := scanInsight(row)
	if err != nil {
		return nil, notFound(err, "territory insight")
	}
	return ti, nil
}

func scanInsight(row scanner) (*datatypes.TerritoryInsight, error) {
	var (
		ti                    datatypes.TerritoryInsight
		responses, confidence []byte
		created, updated      int64
	)
	if err := row.Scan(&ti.ID, &ti.ConversationID, &ti.ClerkOrgID, &ti.Territory, &ti.ResearchArea,
		&responses, &confidence, &ti.Status, &ti.Version, &created, &updated); err != nil {
		return nil, err
	}
	ti.Responses = map[int]string{}
	ti.Confidence = map[int]string{}
	if err := json.Unmarshal(responses, &ti.Responses); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}
	if err := json.Unmarshal(confidence, &ti.Confidence); err != nil {
		return nil, fmt.Errorf("decode confidence: %w", err)
	}
	ti.CreatedAt, ti.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &ti, nil
}
