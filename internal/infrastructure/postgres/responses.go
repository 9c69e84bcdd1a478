package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/response"
)

// ResponseRepository stores form responses and intake records. Every write also
// appends the record's pending events to the outbox in the same transaction.
type ResponseRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewResponseRepository creates a new response repository
func NewResponseRepository(pool *pgxpool.Pool, logger *zap.Logger) *ResponseRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseRepository{pool: pool, logger: logger}
}

var _ response.Repository = (*ResponseRepository)(nil)

const responseColumns = `id, template_id, patient_id, respondent, entries, status, version,
	created_at, updated_at, completed_at, reviewed_at, reviewed_by`

// Create inserts the record and its events
func (r *ResponseRepository) Create(ctx context.Context, rec *response.Record) error {
	respondent, entries, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO form_responses (` + responseColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		_, err := tx.Exec(ctx, query,
			rec.ID, rec.TemplateID, rec.PatientID, respondent, entries, rec.Status, rec.Version,
			rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt, rec.ReviewedAt, rec.ReviewedBy,
		)
		if err != nil {
			if pgCode(err) == codeForeignKeyViolation {
				return apperrors.NotFound("template", rec.TemplateID.String())
			}
			return fmt.Errorf("insert response: %w", err)
		}
		return writeEvents(ctx, tx, rec.Changes())
	})
	if err != nil {
		return err
	}

	r.logger.Debug("response stored",
		zap.String("response_id", rec.ID.String()),
		zap.Int("events", len(rec.Changes())))
	rec.ClearChanges()
	return nil
}

// Get loads one response
func (r *ResponseRepository) Get(ctx context.Context, id uuid.UUID) (*response.Record, error) {
	query := `SELECT ` + responseColumns + ` FROM form_responses WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("response", id.String())
	}
	return rec, err
}

// Update saves a status transition made on a loaded record
func (r *ResponseRepository) Update(ctx context.Context, rec *response.Record) error {
	if len(rec.Changes()) == 0 {
		return nil
	}
	respondent, entries, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	expected := rec.Version - len(rec.Changes())

	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		return r.update(ctx, tx, rec, respondent, entries, expected)
	})
	if err != nil {
		return err
	}
	rec.ClearChanges()
	return nil
}

func (r *ResponseRepository) update(ctx context.Context, tx pgx.Tx, rec *response.Record, respondent, entries []byte, expected int) error {
	query := `
		UPDATE form_responses
		SET respondent = $1, entries = $2, status = $3, version = $4, updated_at = $5,
		    completed_at = $6, reviewed_at = $7, reviewed_by = $8
		WHERE id = $9 AND version = $10
	`
	tag, err := tx.Exec(ctx, query,
		respondent, entries, rec.Status, rec.Version, rec.UpdatedAt,
		rec.CompletedAt, rec.ReviewedAt, rec.ReviewedBy, rec.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("response", "response %s changed since version %d", rec.ID, expected)
	}
	return writeEvents(ctx, tx, rec.Changes())
}

// AddAttachment patches one file into one entry under a row lock
func (r *ResponseRepository) AddAttachment(ctx context.Context, id uuid.UUID, questionID string, att response.Attachment) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + responseColumns + ` FROM form_responses WHERE id = $1 FOR UPDATE`
		rec, err := scanRecord(tx.QueryRow(ctx, query, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("response", id.String())
		}
		if err != nil {
			return err
		}

		expected := rec.Version
		if err := rec.AddAttachment(questionID, att); err != nil {
			return apperrors.Invalid("questionId", apperrors.CodeInvalidValue, "%s", err.Error())
		}
		respondent, entries, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		return r.update(ctx, tx, rec, respondent, entries, expected)
	})
}

// CountForTemplate counts responses referencing a template
func (r *ResponseRepository) CountForTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM form_responses WHERE template_id = $1`, templateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return n, nil
}

// CreateIntake inserts an intake record and its events
func (r *ResponseRepository) CreateIntake(ctx context.Context, in *response.IntakeRecord) error {
	sections, err := json.Marshal(in.Sections)
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO intake_records (id, patient_id, form_type, sections, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.Exec(ctx, query, in.ID, in.PatientID, in.FormType, sections, in.CreatedAt, in.UpdatedAt); err != nil {
			return fmt.Errorf("insert intake: %w", err)
		}
		return writeEvents(ctx, tx, in.Changes())
	})
	if err != nil {
		return err
	}
	in.ClearChanges()
	return nil
}

// GetIntake loads one intake record
func (r *ResponseRepository) GetIntake(ctx context.Context, id uuid.UUID) (*response.IntakeRecord, error) {
	in := &response.IntakeRecord{}
	var sections []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, form_type, sections, created_at, updated_at
		FROM intake_records WHERE id = $1
	`, id).Scan(&in.ID, &in.PatientID, &in.FormType, &sections, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("intake", id.String())
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sections, &in.Sections); err != nil {
		return nil, fmt.Errorf("decode sections of intake %s: %w", id, err)
	}
	return in, nil
}

func marshalRecord(rec *response.Record) (respondent, entries []byte, err error) {
	if respondent, err = json.Marshal(rec.Respondent); err != nil {
		return nil, nil, fmt.Errorf("marshal respondent: %w", err)
	}
	if entries, err = json.Marshal(rec.Entries); err != nil {
		return nil, nil, fmt.Errorf("marshal entries: %w", err)
	}
	return respondent, entries, nil
}

func scanRecord(row pgx.Row) (*response.Record, error) {
	rec := &response.Record{}
	var respondent, entries []byte
	err := row.Scan(
		&rec.ID, &rec.TemplateID, &rec.PatientID, &respondent, &entries, &rec.Status, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.CompletedAt, &rec.ReviewedAt, &rec.ReviewedBy,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(respondent, &rec.Respondent); err != nil {
		return nil, fmt.Errorf("decode respondent of response %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(entries, &rec.Entries); err != nil {
		return nil, fmt.Errorf("decode entries of response %s: %w", rec.ID, err)
	}
	return rec, nil
}
