package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// ResponseRepository keeps responses and intake records in maps. Each write
// queues the record's events on the shared outbox under the same lock.
type ResponseRepository struct {
	mu        sync.RWMutex
	responses map[uuid.UUID][]byte
	intakes   map[uuid.UUID][]byte
	templates template.Repository
	outbox    *Outbox
}

// NewResponseRepository creates an empty repository. templates, when set, is
// checked on Create the way the foreign key is in Postgres.
func NewResponseRepository(templates template.Repository, outbox *Outbox) *ResponseRepository {
	return &ResponseRepository{
		responses: make(map[uuid.UUID][]byte),
		intakes:   make(map[uuid.UUID][]byte),
		templates: templates,
		outbox:    outbox,
	}
}

var _ response.Repository = (*ResponseRepository)(nil)

// records are stored as JSON so callers never share entry slices with the store
func encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

func (r *ResponseRepository) Create(ctx context.Context, rec *response.Record) error {
	if r.templates != nil {
		if _, err := r.templates.Get(ctx, rec.TemplateID); err != nil {
			return err
		}
	}
	b, err := encode(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.responses[rec.ID]; ok {
		return apperrors.Conflict("response", "response %s already exists", rec.ID)
	}
	if err := r.queue(rec.Changes()); err != nil {
		return err
	}
	r.responses[rec.ID] = b
	rec.ClearChanges()
	return nil
}

func (r *ResponseRepository) queue(events []*response.Event) error {
	if r.outbox == nil || len(events) == 0 {
		return nil
	}
	return r.outbox.append(events)
}

func (r *ResponseRepository) Get(_ context.Context, id uuid.UUID) (*response.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load(id)
}

func (r *ResponseRepository) load(id uuid.UUID) (*response.Record, error) {
	b, ok := r.responses[id]
	if !ok {
		return nil, apperrors.NotFound("response", id.String())
	}
	rec := &response.Record{}
	if err := json.Unmarshal(b, rec); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", id, err)
	}
	return rec, nil
}

func (r *ResponseRepository) Update(_ context.Context, rec *response.Record) error {
	if len(rec.Changes()) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.update(rec, rec.Version-len(rec.Changes())); err != nil {
		return err
	}
	rec.ClearChanges()
	return nil
}

func (r *ResponseRepository) update(rec *response.Record, expected int) error {
	cur, err := r.load(rec.ID)
	if err != nil {
		return err
	}
	if cur.Version != expected {
		return apperrors.Conflict("response", "response %s changed since version %d", rec.ID, expected)
	}
	b, err := encode(rec)
	if err != nil {
		return err
	}
	if err := r.queue(rec.Changes()); err != nil {
		return err
	}
	r.responses[rec.ID] = b
	return nil
}

func (r *ResponseRepository) AddAttachment(_ context.Context, id uuid.UUID, questionID string, att response.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	expected := rec.Version
	if err := rec.AddAttachment(questionID, att); err != nil {
		return apperrors.Invalid("questionId", apperrors.CodeInvalidValue, "%s", err.Error())
	}
	return r.update(rec, expected)
}

func (r *ResponseRepository) CountForTemplate(_ context.Context, templateID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id := range r.responses {
		rec, err := r.load(id)
		if err != nil {
			return 0, err
		}
		if rec.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}

// countFor adapts CountForTemplate to the template repository's delete guard
func (r *ResponseRepository) countFor(id uuid.UUID) int {
	n, _ := r.CountForTemplate(context.Background(), id)
	return n
}

func (r *ResponseRepository) CreateIntake(_ context.Context, in *response.IntakeRecord) error {
	b, err := encode(in)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.queue(in.Changes()); err != nil {
		return err
	}
	r.intakes[in.ID] = b
	in.ClearChanges()
	return nil
}

func (r *ResponseRepository) GetIntake(_ context.Context, id uuid.UUID) (*response.IntakeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.intakes[id]
	if !ok {
		return nil, apperrors.NotFound("intake", id.String())
	}
	in := &response.IntakeRecord{}
	if err := json.Unmarshal(b, in); err != nil {
		return nil, fmt.Errorf("decode intake %s: %w", id, err)
	}
	return in, nil
}
