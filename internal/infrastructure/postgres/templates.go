package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// TemplateRepository stores form templates with their items as jsonb
type TemplateRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(pool *pgxpool.Pool, logger *zap.Logger) *TemplateRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateRepository{pool: pool, logger: logger}
}

var _ template.Repository = (*TemplateRepository)(nil)

const templateColumns = `id, owner_id, title, description, language, is_active, is_public, items, version, created_at, updated_at`

// Create inserts a new template at version 1
func (r *TemplateRepository) Create(ctx context.Context, t *template.Template) error {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	now := time.Now().UTC()
	t.Version = 1
	t.CreatedAt, t.UpdatedAt = now, now

	query := `
		INSERT INTO form_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		t.ID, t.OwnerID, t.Title, t.Description, t.Language, t.IsActive, t.IsPublic,
		items, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return apperrors.Conflict("template", "template %s already exists", t.ID)
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// Get loads one template
func (r *TemplateRepository) Get(ctx context.Context, id uuid.UUID) (*template.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM form_templates WHERE id = $1`
	t, err := scanTemplate(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("template", id.String())
	}
	return t, err
}

// List returns templates newest first
func (r *TemplateRepository) List(ctx context.Context, f template.ListFilter) ([]*template.Template, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT ` + templateColumns + `
		FROM form_templates
		WHERE ($1 = '' OR owner_id = $1 OR is_public)
		  AND (NOT $2 OR is_active)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query, f.OwnerID, f.ActiveOnly, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update replaces metadata and items when t.Version matches the stored row
func (r *TemplateRepository) Update(ctx context.Context, t *template.Template) error {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	now := time.Now().UTC()

	query := `
		UPDATE form_templates
		SET title = $1, description = $2, language = $3, is_active = $4, is_public = $5,
		    items = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9
		RETURNING version
	`
	var version int
	err = r.pool.QueryRow(ctx, query,
		t.Title, t.Description, t.Language, t.IsActive, t.IsPublic, items, now, t.ID, t.Version,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, t.ID); getErr != nil {
			return getErr
		}
		return apperrors.Conflict("template", "version %d is stale", t.Version)
	}
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	t.Version = version
	t.UpdatedAt = now
	return nil
}

// Delete removes a template; templates with responses are protected by the foreign key
func (r *TemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM form_templates WHERE id = $1`, id)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return apperrors.Conflict("template", "template %s has responses", id)
		}
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("template", id.String())
	}
	return nil
}

func scanTemplate(row pgx.Row) (*template.Template, error) {
	t := &template.Template{}
	var items []byte
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Language, &t.IsActive, &t.IsPublic,
		&items, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &t.Items); err != nil {
		return nil, fmt.Errorf("decode items of template %s: %w", t.ID, err)
	}
	return t, nil
}
