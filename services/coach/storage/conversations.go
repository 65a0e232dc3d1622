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
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
)

// =============================================================================
// Conversations
// =============================================================================

const conversationColumns = `id, clerk_org_id, user_id, title, agent_type, status, current_phase,
	framework_state, version, created_at, updated_at`

// CreateConversation implements Store.
func (s *SQLStore) CreateConversation(ctx context.Context, conv *datatypes.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Status == "" {
		conv.Status = datatypes.ConversationActive
	}
	if len(conv.FrameworkState) == 0 {
		conv.FrameworkState = []byte("{}")
	}
	conv.Version = 1
	now := s.stamp()
	conv.CreatedAt, conv.UpdatedAt = now, now

	_, err := s.exec(ctx, s.db, `INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.ClerkOrgID, conv.UserID, conv.Title, conv.AgentType, conv.Status,
		nullString(conv.CurrentPhase), string(conv.FrameworkState), conv.Version,
		millis(now), millis(now))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation implements Store.
func (s *SQLStore) GetConversation(ctx context.Context, orgID, id string) (*datatypes.Conversation, error) {
	row := s.queryRow(ctx, s.db,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND clerk_org_id = ?`, id, orgID)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return conv, nil
}

// ListConversations implements Store. An empty status lists every
// conversation of the org, most recently updated first.
func (s *SQLStore) ListConversations(ctx context.Context, orgID, status string) ([]datatypes.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE clerk_org_id = ?`
	args := []any{orgID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []datatypes.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

// UpdateConversation implements Store.
func (s *SQLStore) UpdateConversation(ctx context.Context, orgID, id string, upd ConversationUpdate) (*datatypes.Conversation, error) {
	var (
		sets []string
		args []any
	)
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.CurrentPhase != nil {
		sets = append(sets, "current_phase = ?")
		args = append(args, nullString(*upd.CurrentPhase))
	}
	if len(upd.FrameworkState) > 0 {
		sets = append(sets, "framework_state = ?")
		args = append(args, string(upd.FrameworkState))
	}
	sets = append(sets, "version = version + 1", "updated_at = ?")
	args = append(args, millis(s.stamp()))

	query := `UPDATE conversations SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND clerk_org_id = ?`
	args = append(args, id, orgID)
	if upd.ExpectedVersion != nil {
		query += ` AND version = ?`
		args = append(args, *upd.ExpectedVersion)
	}

	res, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	current, err := s.GetConversation(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return current, fmt.Errorf("conversation %s is at version %d: %w", id, current.Version, ErrConflict)
	}
	return current, nil
}

func scanConversation(row scanner) (*datatypes.Conversation, error) {
	var (
		c                datatypes.Conversation
		phase            sql.NullString
		state            []byte
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.ClerkOrgID, &c.UserID, &c.Title, &c.AgentType, &c.Status, &phase,
		&state, &c.Version, &created, &updated); err != nil {
		return nil, err
	}
	c.CurrentPhase = phase.String
	c.FrameworkState = append([]byte(nil), state...)
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &c, nil
}

// =============================================================================
// Messages
// =============================================================================

// InsertMessage implements Store. The caller has already checked that the
// conversation belongs to its org.
func (s *SQLStore) InsertMessage(ctx context.Context, msg *datatypes.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.stamp()
	}
	meta, err := jsonArg(msg.Metadata, true)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO conversation_messages
		(id, conversation_id, role, content, metadata, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, meta, msg.TokenCount, millis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages implements Store. Messages are returned oldest first.
func (s *SQLStore) ListMessages(ctx context.Context, orgID, conversationID string) ([]datatypes.ConversationMessage, error) {
	rows, err := s.query(ctx, s.db, `SELECT m.id, m.conversation_id, m.role, m.content, m.metadata,
			m.token_count, m.created_at
		FROM conversation_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = ? AND c.clerk_org_id = ?
		ORDER BY m.created_at, m.id`, conversationID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []datatypes.ConversationMessage{}
	for rows.Next() {
		var (
			m       datatypes.ConversationMessage
			meta    []byte
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &meta,
			&m.TokenCount, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := decodeJSON(meta, &m.Metadata); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages implements Store.
func (s *SQLStore) CountMessages(ctx context.Context, orgID, conversationID string) (int, error) {
	var n int
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*)
		FROM conversation_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = ? AND c.clerk_org_id = ?`, conversationID, orgID).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
