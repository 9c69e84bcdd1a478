package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// TemplateRepository keeps templates in a map. Stored values are deep copies.
type TemplateRepository struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*template.Template
	responses func(uuid.UUID) int
}

// NewTemplateRepository creates an empty repository. responses, when set, counts
// responses per template so Delete can refuse templates in use.
func NewTemplateRepository(responses func(uuid.UUID) int) *TemplateRepository {
	return &TemplateRepository{templates: make(map[uuid.UUID]*template.Template), responses: responses}
}

var _ template.Repository = (*TemplateRepository)(nil)

func cloneTemplate(t *template.Template) *template.Template {
	c := *t
	c.Items = make([]*template.Question, len(t.Items))
	for i, q := range t.Items {
		c.Items[i] = q.Clone()
	}
	return &c
}

func (r *TemplateRepository) Create(_ context.Context, t *template.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.ID]; ok {
		return apperrors.Conflict("template", "template %s already exists", t.ID)
	}
	now := time.Now().UTC()
	t.Version = 1
	t.CreatedAt, t.UpdatedAt = now, now
	r.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (r *TemplateRepository) Get(_ context.Context, id uuid.UUID) (*template.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, apperrors.NotFound("template", id.String())
	}
	return cloneTemplate(t), nil
}

func (r *TemplateRepository) List(_ context.Context, f template.ListFilter) ([]*template.Template, error) {
	r.mu.RLock()
	var out []*template.Template
	for _, t := range r.templates {
		if f.OwnerID != "" && t.OwnerID != f.OwnerID && !t.IsPublic {
			continue
		}
		if f.ActiveOnly && !t.IsActive {
			continue
		}
		out = append(out, cloneTemplate(t))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TemplateRepository) Update(_ context.Context, t *template.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.templates[t.ID]
	if !ok {
		return apperrors.NotFound("template", t.ID.String())
	}
	if cur.Version != t.Version {
		return apperrors.Conflict("template", "version %d is stale", t.Version)
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	t.CreatedAt = cur.CreatedAt
	r.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (r *TemplateRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[id]; !ok {
		return apperrors.NotFound("template", id.String())
	}
	if r.responses != nil && r.responses(id) > 0 {
		return apperrors.Conflict("template", "template %s has responses", id)
	}
	delete(r.templates, id)
	return nil
}
