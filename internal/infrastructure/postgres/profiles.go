package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/profile"
)

// ProfileRepository stores patient profiles keyed by patient id
type ProfileRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(pool *pgxpool.Pool, logger *zap.Logger) *ProfileRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileRepository{pool: pool, logger: logger}
}

var _ profile.Repository = (*ProfileRepository)(nil)

// Get loads the profile of a patient
func (r *ProfileRepository) Get(ctx context.Context, patientID string) (*profile.Profile, error) {
	p := &profile.Profile{}
	var dynamic, forms []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, dynamic_data, form_data, version, created_at, updated_at
		FROM patient_profiles WHERE patient_id = $1
	`, patientID).Scan(&p.ID, &p.PatientID, &dynamic, &forms, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("profile", patientID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dynamic, &p.DynamicData); err != nil {
		return nil, fmt.Errorf("decode dynamicData of %s: %w", patientID, err)
	}
	if err := json.Unmarshal(forms, &p.FormData); err != nil {
		return nil, fmt.Errorf("decode formData of %s: %w", patientID, err)
	}
	if p.DynamicData == nil {
		p.DynamicData = map[string]interface{}{}
	}
	return p, nil
}

// Save inserts a new profile (Version 0) or updates an existing one when its version matches
func (r *ProfileRepository) Save(ctx context.Context, p *profile.Profile) error {
	dynamic, err := json.Marshal(p.DynamicData)
	if err != nil {
		return fmt.Errorf("marshal dynamicData: %w", err)
	}
	forms, err := json.Marshal(p.FormData)
	if err != nil {
		return fmt.Errorf("marshal formData: %w", err)
	}
	now := time.Now().UTC()

	if p.Version == 0 {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO patient_profiles (id, patient_id, dynamic_data, form_data, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
		`, p.ID, p.PatientID, dynamic, forms, p.CreatedAt, now)
		if err != nil {
			if pgCode(err) == codeUniqueViolation {
				return fmt.Errorf("%w: profile for %s was created concurrently", profile.ErrVersionConflict, p.PatientID)
			}
			return fmt.Errorf("insert profile: %w", err)
		}
		p.Version = 1
		p.UpdatedAt = now
		return nil
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_profiles
		SET dynamic_data = $1, form_data = $2, version = version + 1, updated_at = $3
		WHERE patient_id = $4 AND version = $5
	`, dynamic, forms, now, p.PatientID, p.Version)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: profile for %s changed since version %d", profile.ErrVersionConflict, p.PatientID, p.Version)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}
