package response

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// Field is one dynamic field of an intake section
type Field struct {
	FieldName    string        `json:"fieldName"`
	FieldType    template.Type `json:"fieldType"`
	FieldValue   interface{}   `json:"fieldValue,omitempty"`
	MatrixValues []MatrixCell  `json:"matrixValues,omitempty"`
	FileData     []Attachment  `json:"fileData,omitempty"`
	Markings     []Marking     `json:"bodyMapMarkings,omitempty"`
	Signature    *Signature    `json:"signature,omitempty"`
}

// Section groups intake fields under a name
type Section struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// IntakeRecord is the section-organized alternative to a template response
type IntakeRecord struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patientId"`
	FormType  string    `json:"formType"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	changes []*Event
}

// AllMarkings returns the body map markings of the field, including any sent as fieldValue
func (f Field) AllMarkings() ([]Marking, error) {
	marks := append([]Marking(nil), f.Markings...)
	if f.FieldValue == nil {
		return marks, nil
	}
	raw, err := json.Marshal(f.FieldValue)
	if err != nil {
		return nil, err
	}
	var decoded []Marking
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return append(marks, decoded...), nil
}

// NewIntakeRecord validates every typed field and stamps the record
func NewIntakeRecord(patientID, formType string, sections []Section) (*IntakeRecord, error) {
	if patientID == "" {
		return nil, apperrors.Invalid("patientId", apperrors.CodeRequired, "patientId is required")
	}
	for si, s := range sections {
		for fi, f := range s.Fields {
			if err := validateField(fmt.Sprintf("sections[%d].fields[%d]", si, fi), f); err != nil {
				return nil, err
			}
		}
	}
	if formType == "" {
		formType = "intake"
	}
	now := time.Now().UTC()
	in := &IntakeRecord{
		ID:        uuid.New(),
		PatientID: patientID,
		FormType:  formType,
		Sections:  sections,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ev, err := NewEvent(AggregateIntake, in.ID.String(), EventIntakeSubmitted, &IntakeSubmittedData{
		IntakeID:  in.ID.String(),
		PatientID: patientID,
		FormType:  formType,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	ev.Version = 1
	in.changes = append(in.changes, ev.WithPatient(patientID))
	return in, nil
}

// Changes returns uncommitted events
func (in *IntakeRecord) Changes() []*Event { return in.changes }

// ClearChanges clears uncommitted events
func (in *IntakeRecord) ClearChanges() { in.changes = nil }

// validateField checks that the value of a typed field has the shape of its type.
// Untyped fields are inferred during extraction and are not checked here.
func validateField(field string, f Field) error {
	if f.FieldType == "" {
		return nil
	}
	d, ok := template.Lookup(f.FieldType)
	if !ok {
		return apperrors.Invalid(field+".fieldType", apperrors.CodeUnknownType, "unknown field type %q", f.FieldType)
	}
	mismatch := func(got interface{}) error {
		return apperrors.Invalid(field+".fieldValue", apperrors.CodeShapeMismatch,
			"%s value does not fit %s", describe(got), f.FieldType)
	}

	switch d.Shape {
	case template.ShapeScalar, template.ShapeMulti:
		switch v := f.FieldValue.(type) {
		case nil, string, float64, bool, json.Number, []string:
		case []interface{}:
			for _, x := range v {
				if _, ok := x.(string); !ok {
					return mismatch(x)
				}
			}
		default:
			return mismatch(v)
		}
	case template.ShapeObject:
		switch v := f.FieldValue.(type) {
		case nil, map[string]interface{}:
		default:
			return mismatch(v)
		}
	case template.ShapeMatrix:
		switch v := f.FieldValue.(type) {
		case nil, []string, []interface{}:
		default:
			return mismatch(v)
		}
		for i, c := range f.MatrixValues {
			if c.RowIndex < 0 || c.ColumnIndex < 0 {
				return apperrors.Invalid(fmt.Sprintf("%s.matrixValues[%d]", field, i), apperrors.CodeOutOfRange,
					"row and column indexes must not be negative")
			}
		}
	case template.ShapeBodyMap:
		marks, err := f.AllMarkings()
		if err != nil {
			return &apperrors.ValidationError{
				Field:   field + ".fieldValue",
				Code:    apperrors.CodeShapeMismatch,
				Message: fmt.Sprintf("%s value is not a list of markings", describe(f.FieldValue)),
				Cause:   err,
			}
		}
		return checkMarkings(field, marks)
	}
	return nil
}

func describe(v interface{}) string {
	switch v.(type) {
	case string:
		return "text"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}, []string:
		return "list"
	}
	return fmt.Sprintf("%T", v)
}
