package response

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventResponseSubmitted  EventType = "ResponseSubmitted"
	EventResponseCompleted  EventType = "ResponseCompleted"
	EventResponseReviewed   EventType = "ResponseReviewed"
	EventAttachmentRecorded EventType = "AttachmentRecorded"
	EventIntakeSubmitted    EventType = "IntakeSubmitted"
)

// Aggregate types carried on events
const (
	AggregateFormResponse = "FormResponse"
	AggregateIntake       = "IntakeForm"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	PatientID     string          `json:"patient_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateType, aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ResponseSubmittedData is emitted when a response record is created
type ResponseSubmittedData struct {
	ResponseID string    `json:"response_id"`
	TemplateID string    `json:"template_id"`
	PatientID  string    `json:"patient_id,omitempty"`
	Status     Status    `json:"status"`
	Entries    int       `json:"entries"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResponseCompletedData triggers the profile merge
type ResponseCompletedData struct {
	ResponseID  string    `json:"response_id"`
	TemplateID  string    `json:"template_id"`
	PatientID   string    `json:"patient_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// ResponseReviewedData records the reviewer
type ResponseReviewedData struct {
	ResponseID string    `json:"response_id"`
	ReviewedBy string    `json:"reviewed_by"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// AttachmentRecordedData records a file patched into an entry
type AttachmentRecordedData struct {
	ResponseID string `json:"response_id"`
	QuestionID string `json:"question_id"`
	FileName   string `json:"file_name"`
	URL        string `json:"url"`
	Size       int64  `json:"size"`
}

// IntakeSubmittedData triggers the profile merge for intake records
type IntakeSubmittedData struct {
	IntakeID  string    `json:"intake_id"`
	PatientID string    `json:"patient_id"`
	FormType  string    `json:"form_type"`
	CreatedAt time.Time `json:"created_at"`
}

// WithPatient sets the patient reference used for partitioning
func (e *Event) WithPatient(patientID string) *Event {
	e.PatientID = patientID
	return e
}
