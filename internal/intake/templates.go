package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/builder"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
	"github.com/drfirst/go-intake/internal/observability/metrics"
)

// TemplateInput is the editable part of a template. A nil Items leaves the items alone.
type TemplateInput struct {
	template.Metadata
	Items []*template.Question `json:"items"`
}

// TemplateService manages templates on behalf of an actor
type TemplateService struct {
	repo      template.Repository
	responses response.Repository
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewTemplateService creates a template service. m may be nil.
func NewTemplateService(repo template.Repository, responses response.Repository, m *metrics.Metrics, logger *zap.Logger) *TemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{repo: repo, responses: responses, metrics: m, logger: logger}
}

// Create stores a new template owned by the actor. Items go through the save
// translation: identities are stripped, placeholders dropped, storage ids assigned.
func (s *TemplateService) Create(ctx context.Context, actor Actor, in TemplateInput) (*template.Template, error) {
	t := &template.Template{
		ID:       uuid.New(),
		OwnerID:  actor.ID,
		Metadata: in.Metadata,
		Items:    builder.PrepareForSave(in.Items),
	}
	if t.Language == "" {
		t.Language = "en"
	}
	t.AssignStorageIDs()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.saved("create", t)
	return t, nil
}

// Get returns a template the actor may read: owned, public, or any for admins
func (s *TemplateService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*template.Template, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsPublic && !actor.IsAdmin() && t.OwnerID != actor.ID {
		return nil, denied(actor, t, "template is private")
	}
	return t, nil
}

// List returns the actor's templates plus public ones. Admins see everything.
func (s *TemplateService) List(ctx context.Context, actor Actor, f template.ListFilter) ([]*template.Template, error) {
	if !actor.IsAdmin() {
		f.OwnerID = actor.ID
	}
	return s.repo.List(ctx, f)
}

// Update replaces metadata and, when given, items. version must match the stored one.
func (s *TemplateService) Update(ctx context.Context, actor Actor, id uuid.UUID, version int, in TemplateInput) (*template.Template, error) {
	t, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if version != 0 && version != t.Version {
		return nil, apperrors.Conflict("template", "version %d is stale, current is %d", version, t.Version)
	}
	return s.apply(ctx, t, in, "update")
}

// Patch applies an RFC 7396 merge patch to the template's editable fields
func (s *TemplateService) Patch(ctx context.Context, actor Actor, id uuid.UUID, patch []byte) (*template.Template, error) {
	t, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	doc, err := json.Marshal(TemplateInput{Metadata: t.Metadata, Items: t.Items})
	if err != nil {
		return nil, fmt.Errorf("encode template %s: %w", id, err)
	}
	patched, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return nil, apperrors.Invalid("patch", apperrors.CodeInvalidValue, "invalid merge patch: %v", err)
	}
	var in TemplateInput
	if err := json.Unmarshal(patched, &in); err != nil {
		return nil, &apperrors.ValidationError{Field: "patch", Code: apperrors.CodeShapeMismatch, Message: "patched template is invalid", Cause: err}
	}
	if in.Items == nil {
		in.Items = []*template.Question{}
	}
	return s.apply(ctx, t, in, "patch")
}

func (s *TemplateService) apply(ctx context.Context, t *template.Template, in TemplateInput, op string) (*template.Template, error) {
	t.Metadata = in.Metadata
	if t.Language == "" {
		t.Language = "en"
	}

	if in.Items != nil {
		next := builder.PrepareForSave(in.Items)
		same, err := sameItems(builder.PrepareForSave(t.Items), next)
		if err != nil {
			return nil, err
		}
		if !same {
			n, err := s.responses.CountForTemplate(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				return nil, apperrors.Conflict("template", "template %s has %d responses; its items can no longer change", t.ID, n)
			}
			t.Items = next
			t.AssignStorageIDs()
		}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.saved(op, t)
	return t, nil
}

// Delete removes a template that has no responses
func (s *TemplateService) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("template deleted", zap.String("template_id", id.String()), zap.String("actor", actor.ID))
	return nil
}

func (s *TemplateService) owned(ctx context.Context, actor Actor, id uuid.UUID) (*template.Template, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && t.OwnerID != actor.ID {
		return nil, denied(actor, t, "only the owner or an admin may modify it")
	}
	return t, nil
}

func denied(actor Actor, t *template.Template, reason string) error {
	return &apperrors.AccessDeniedError{Actor: actor.ID, Resource: "template " + t.ID.String(), Reason: reason}
}

// sameItems compares stripped item lists by their stored encoding
func sameItems(a, b []*template.Question) (bool, error) {
	ja, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ja, jb), nil
}

func (s *TemplateService) saved(op string, t *template.Template) {
	if s.metrics != nil {
		s.metrics.TemplatesSaved.WithLabelValues(op).Inc()
	}
	s.logger.Info("template saved",
		zap.String("operation", op),
		zap.String("template_id", t.ID.String()),
		zap.Int("items", len(t.Items)),
		zap.Int("version", t.Version))
}
