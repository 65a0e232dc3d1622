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

	"github.com/google/uuid"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
)

// =============================================================================
// Clients
// =============================================================================

const clientColumns = `id, clerk_org_id, company_name, industry, company_size, strategic_focus,
	pain_points, target_outcomes, tier, coaching_preferences, onboarding_id, created_at, updated_at`

// CreateClient implements Store.
func (s *SQLStore) CreateClient(ctx context.Context, client *datatypes.Client) error {
	return s.insertClient(ctx, s.db, client)
}

func (s *SQLStore) insertClient(ctx context.Context, q querier, client *datatypes.Client) error {
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.Tier == "" {
		client.Tier = datatypes.TierPilot
	}
	now := s.stamp()
	client.CreatedAt, client.UpdatedAt = now, now

	prefs, err := jsonArg(client.CoachingPreferences, true)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, q, `INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID, client.ClerkOrgID, client.CompanyName,
		nullString(client.Industry), nullString(client.CompanySize), nullString(client.StrategicFocus),
		nullString(client.PainPoints), nullString(client.TargetOutcomes), client.Tier,
		prefs, nullString(client.OnboardingID), millis(now), millis(now))
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// GetClientByOrg implements Store.
func (s *SQLStore) GetClientByOrg(ctx context.Context, orgID string) (*datatypes.Client, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+clientColumns+` FROM clients WHERE clerk_org_id = ?`, orgID)
	c, err := scanClient(row)
	if err != nil {
		return nil, notFound(err, "client")
	}
	return c, nil
}

func scanClient(row scanner) (*datatypes.Client, error) {
	var (
		c                                    datatypes.Client
		industry, size, focus, pain, targets sql.NullString
		onboardingID                         sql.NullString
		prefs                                []byte
		created, updated                     int64
	)
	if err := row.Scan(&c.ID, &c.ClerkOrgID, &c.CompanyName, &industry, &size, &focus,
		&pain, &targets, &c.Tier, &prefs, &onboardingID, &created, &updated); err != nil {
		return nil, err
	}
	c.Industry, c.CompanySize, c.StrategicFocus = industry.String, size.String, focus.String
	c.PainPoints, c.TargetOutcomes = pain.String, targets.String
	c.OnboardingID = onboardingID.String
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	if err := decodeJSON(prefs, &c.CoachingPreferences); err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// Onboarding
// =============================================================================

const onboardingColumns = `id, status, company_name, contact_name, contact_email, industry, company_size,
	strategic_focus, pain_points, target_outcomes, tier, review_notes, reviewed_by, provisioned_org_id,
	submitted_at, reviewed_at, provisioned_at, created_at, updated_at`

// CreateOnboarding implements Store.
func (s *SQLStore) CreateOnboarding(ctx context.Context, o *datatypes.ClientOnboarding) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = datatypes.OnboardingDraft
	}
	now := s.stamp()
	o.CreatedAt, o.UpdatedAt = now, now

	_, err := s.exec(ctx, s.db, `INSERT INTO client_onboarding (`+onboardingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Status, o.CompanyName, nullString(o.ContactName), o.ContactEmail,
		nullString(o.Industry), nullString(o.CompanySize), nullString(o.StrategicFocus),
		nullString(o.PainPoints), nullString(o.TargetOutcomes), nullString(o.Tier),
		nullString(o.ReviewNotes), nullString(o.ReviewedBy), nullString(o.ProvisionedOrgID),
		nullMillis(o.SubmittedAt), nullMillis(o.ReviewedAt), nullMillis(o.ProvisionedAt),
		millis(now), millis(now))
	if err != nil {
		return fmt.Errorf("insert onboarding: %w", err)
	}
	return nil
}

// GetOnboarding implements Store.
func (s *SQLStore) GetOnboarding(ctx context.Context, id string) (*datatypes.ClientOnboarding, error) {
	return s.getOnboarding(ctx, s.db, id)
}

func (s *SQLStore) getOnboarding(ctx context.Context, q querier, id string) (*datatypes.ClientOnboarding, error) {
	row := s.queryRow(ctx, q, `SELECT `+onboardingColumns+` FROM client_onboarding WHERE id = ?`, id)
	o, err := scanOnboarding(row)
	if err != nil {
		return nil, notFound(err, "onboarding")
	}
	return o, nil
}

// FindOnboardingByProvisionedOrg implements Store.
func (s *SQLStore) FindOnboardingByProvisionedOrg(ctx context.Context, orgID string) (*datatypes.ClientOnboarding, error) {
	row := s.queryRow(ctx, s.db,
		`SELECT `+onboardingColumns+` FROM client_onboarding WHERE provisioned_org_id = ?`, orgID)
	o, err := scanOnboarding(row)
	if err != nil {
		return nil, notFound(err, "onboarding")
	}
	return o, nil
}

// ListOnboarding implements Store. An empty status lists every record.
func (s *SQLStore) ListOnboarding(ctx context.Context, status string) ([]datatypes.ClientOnboarding, error) {
	query := `SELECT ` + onboardingColumns + ` FROM client_onboarding`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list onboarding: %w", err)
	}
	defer rows.Close()

	out := []datatypes.ClientOnboarding{}
	for rows.Next() {
		o, err := scanOnboarding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan onboarding: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateOnboarding implements Store.
func (s *SQLStore) UpdateOnboarding(ctx context.Context, o *datatypes.ClientOnboarding, fromStatus string) error {
	o.UpdatedAt = s.stamp()
	res, err := s.exec(ctx, s.db, `UPDATE client_onboarding SET
			status = ?, company_name = ?, contact_name = ?, contact_email = ?, industry = ?,
			company_size = ?, strategic_focus = ?, pain_points = ?, target_outcomes = ?, tier = ?,
			review_notes = ?, reviewed_by = ?, submitted_at = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		o.Status, o.CompanyName, nullString(o.ContactName), o.ContactEmail, nullString(o.Industry),
		nullString(o.CompanySize), nullString(o.StrategicFocus), nullString(o.PainPoints),
		nullString(o.TargetOutcomes), nullString(o.Tier),
		nullString(o.ReviewNotes), nullString(o.ReviewedBy), nullMillis(o.SubmittedAt),
		nullMillis(o.ReviewedAt), millis(o.UpdatedAt),
		o.ID, fromStatus)
	if err != nil {
		return fmt.Errorf("update onboarding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetOnboarding(ctx, o.ID); err != nil {
			return err
		}
		return fmt.Errorf("onboarding %s is not %s: %w", o.ID, fromStatus, ErrConflict)
	}
	return nil
}

// ProvisionOnboarding implements Store.
func (s *SQLStore) ProvisionOnboarding(ctx context.Context, onboardingID string, client *datatypes.Client) (*datatypes.ClientOnboarding, error) {
	var result *datatypes.ClientOnboarding
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM clients WHERE clerk_org_id = ?`,
			client.ClerkOrgID).Scan(&existing); err != nil {
			return fmt.Errorf("check client: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("organization %s already has a client: %w", client.ClerkOrgID, ErrConflict)
		}

		now := s.stamp()
		res, err := s.exec(ctx, tx, `UPDATE client_onboarding
			SET status = ?, provisioned_org_id = ?, provisioned_at = ?, updated_at = ?
			WHERE id = ? AND status = ? AND provisioned_org_id IS NULL`,
			datatypes.OnboardingProvisioned, client.ClerkOrgID, millis(now), millis(now),
			onboardingID, datatypes.OnboardingApproved)
		if err != nil {
			return fmt.Errorf("provision onboarding: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := s.getOnboarding(ctx, tx, onboardingID); err != nil {
				return err
			}
			return fmt.Errorf("onboarding %s is not awaiting provisioning: %w", onboardingID, ErrConflict)
		}

		o, err := s.getOnboarding(ctx, tx, onboardingID)
		if err != nil {
			return err
		}
		client.OnboardingID = o.ID
		if client.CompanyName == "" {
			client.CompanyName = o.CompanyName
		}
		if client.Tier == "" {
			client.Tier = o.Tier
		}
		if err := s.insertClient(ctx, tx, client); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("provision %s: %w", onboardingID, err)
	}
	return result, nil
}

func scanOnboarding(row scanner) (*datatypes.ClientOnboarding, error) {
	var (
		o                                    datatypes.ClientOnboarding
		contact, industry, size, focus, pain sql.NullString
		targets, tier, notes, reviewer, org  sql.NullString
		submitted, reviewed, provisioned     sql.NullInt64
		created, updated                     int64
	)
	if err := row.Scan(&o.ID, &o.Status, &o.CompanyName, &contact, &o.ContactEmail, &industry, &size,
		&focus, &pain, &targets, &tier, &notes, &reviewer, &org,
		&submitted, &reviewed, &provisioned, &created, &updated); err != nil {
		return nil, err
	}
	o.ContactName, o.Industry, o.CompanySize = contact.String, industry.String, size.String
	o.StrategicFocus, o.PainPoints, o.TargetOutcomes = focus.String, pain.String, targets.String
	o.Tier, o.ReviewNotes, o.ReviewedBy, o.ProvisionedOrgID = tier.String, notes.String, reviewer.String, org.String
	o.SubmittedAt, o.ReviewedAt, o.ProvisionedAt = fromNullMillis(submitted), fromNullMillis(reviewed), fromNullMillis(provisioned)
	o.CreatedAt, o.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &o, nil
}
