package response

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a response
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusCompleted  Status = "completed"
	StatusReviewed   Status = "reviewed"
)

// ErrInvalidTransition is returned for status changes the lifecycle does not allow
var ErrInvalidTransition = errors.New("invalid status transition")

// Respondent describes who filled the form
type Respondent struct {
	UserID    string `json:"userId,omitempty"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Record is a submitted instance of a template.
// It changes only through status transitions and attachment backfill.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	TemplateID  uuid.UUID  `json:"templateId"`
	PatientID   string     `json:"patientId,omitempty"`
	Respondent  Respondent `json:"respondent"`
	Entries     []Entry    `json:"entries"`
	Status      Status     `json:"status"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy  string     `json:"reviewedBy,omitempty"`

	changes []*Event
}

// NewRecord creates a response in the incomplete or completed state
func NewRecord(templateID uuid.UUID, patientID string, respondent Respondent, entries []Entry, status Status) (*Record, error) {
	if status == "" {
		status = StatusCompleted
	}
	if status != StatusIncomplete && status != StatusCompleted {
		return nil, fmt.Errorf("%w: new response cannot start as %s", ErrInvalidTransition, status)
	}
	now := time.Now().UTC()
	r := &Record{
		ID:         uuid.New(),
		TemplateID: templateID,
		PatientID:  patientID,
		Respondent: respondent,
		Entries:    entries,
		Status:     StatusIncomplete,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if r.Entries == nil {
		r.Entries = []Entry{}
	}
	if err := r.record(EventResponseSubmitted, &ResponseSubmittedData{
		ResponseID: r.ID.String(),
		TemplateID: templateID.String(),
		PatientID:  patientID,
		Status:     status,
		Entries:    len(r.Entries),
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}
	if status == StatusCompleted {
		if err := r.Complete(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Changes returns uncommitted events
func (r *Record) Changes() []*Event { return r.changes }

// ClearChanges clears uncommitted events
func (r *Record) ClearChanges() { r.changes = nil }

// Complete moves an incomplete response to completed
func (r *Record) Complete() error {
	if r.Status != StatusIncomplete {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusCompleted)
	}
	now := time.Now().UTC()
	r.Status = StatusCompleted
	r.CompletedAt = &now
	return r.record(EventResponseCompleted, &ResponseCompletedData{
		ResponseID:  r.ID.String(),
		TemplateID:  r.TemplateID.String(),
		PatientID:   r.PatientID,
		CompletedAt: now,
	})
}

// Review moves a completed response to reviewed
func (r *Record) Review(reviewer string) error {
	if r.Status != StatusCompleted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusReviewed)
	}
	if reviewer == "" {
		return fmt.Errorf("%w: reviewer is required", ErrInvalidTransition)
	}
	now := time.Now().UTC()
	r.Status = StatusReviewed
	r.ReviewedAt = &now
	r.ReviewedBy = reviewer
	return r.record(EventResponseReviewed, &ResponseReviewedData{
		ResponseID: r.ID.String(),
		ReviewedBy: reviewer,
		ReviewedAt: now,
	})
}

// AddAttachment appends a stored file to the entry answering questionID
func (r *Record) AddAttachment(questionID string, att Attachment) error {
	for i, e := range r.Entries {
		if e.QuestionID != questionID {
			continue
		}
		fa, ok := e.Answer.(FileAnswer)
		if !ok {
			return fmt.Errorf("entry %s does not take files", questionID)
		}
		fa.Attachments = append(append([]Attachment{}, fa.Attachments...), att)
		r.Entries[i].Answer = fa
		r.UpdatedAt = time.Now().UTC()
		return r.record(EventAttachmentRecorded, &AttachmentRecordedData{
			ResponseID: r.ID.String(),
			QuestionID: questionID,
			FileName:   att.FileName,
			URL:        att.URL,
			Size:       att.Size,
		})
	}
	return fmt.Errorf("response %s has no entry %s", r.ID, questionID)
}

// Entry finds the entry answering questionID
func (r *Record) Entry(questionID string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.QuestionID == questionID {
			return e, true
		}
	}
	return Entry{}, false
}

// Mergeable reports whether the response may feed the patient profile
func (r *Record) Mergeable() bool {
	return r.PatientID != "" && (r.Status == StatusCompleted || r.Status == StatusReviewed)
}

func (r *Record) record(t EventType, data interface{}) error {
	ev, err := NewEvent(AggregateFormResponse, r.ID.String(), t, data)
	if err != nil {
		return err
	}
	r.Version++
	ev.Version = r.Version
	ev.WithPatient(r.PatientID)
	r.UpdatedAt = ev.Timestamp
	r.changes = append(r.changes, ev)
	return nil
}

// Repository persists response and intake records.
// Implementations write pending events to the outbox in the same transaction as the record.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	// Update saves a status transition; it fails if the stored version moved on.
	Update(ctx context.Context, r *Record) error
	// AddAttachment patches one file into one entry atomically.
	AddAttachment(ctx context.Context, id uuid.UUID, questionID string, att Attachment) error
	CountForTemplate(ctx context.Context, templateID uuid.UUID) (int, error)

	CreateIntake(ctx context.Context, in *IntakeRecord) error
	GetIntake(ctx context.Context, id uuid.UUID) (*IntakeRecord, error)
}
