package template

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-intake/internal/apperrors"
)

// Metadata is the part of a template that stays editable after responses exist
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language"`
	IsActive    bool   `json:"isActive"`
	IsPublic    bool   `json:"isPublic"`
}

// Template is an ordered list of questions plus metadata. Display order is slice order.
type Template struct {
	ID      uuid.UUID `json:"id"`
	OwnerID string    `json:"ownerId"`
	Metadata
	Items     []*Question `json:"items"`
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Item finds a question by storage id
func (t *Template) Item(storageID string) (*Question, bool) {
	for _, q := range t.Items {
		if q.StorageID == storageID {
			return q, true
		}
	}
	return nil, false
}

// Validate checks metadata and every item
func (t *Template) Validate() error {
	if t.Title == "" {
		return apperrors.Invalid("title", apperrors.CodeRequired, "title is required")
	}
	for i, q := range t.Items {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
	}
	return nil
}

// AssignStorageIDs gives every item without a storage id a new one
func (t *Template) AssignStorageIDs() {
	for _, q := range t.Items {
		if q.StorageID == "" {
			q.StorageID = uuid.NewString()
		}
	}
}

// ListFilter narrows template listing
type ListFilter struct {
	OwnerID    string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Repository persists templates
type Repository interface {
	Create(ctx context.Context, t *Template) error
	Get(ctx context.Context, id uuid.UUID) (*Template, error)
	List(ctx context.Context, f ListFilter) ([]*Template, error)
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, id uuid.UUID) error
}
