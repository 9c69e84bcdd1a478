package r5

import (
	"encoding/json"
	"time"
)

// QuestionnaireResponse is the FHIR view of one submitted form.
// Items are keyed by the question's storage id.
type QuestionnaireResponse struct {
	ResourceType  string                      `json:"resourceType"`
	ID            string                      `json:"id,omitempty"`
	Meta          *Meta                       `json:"meta,omitempty"`
	Identifier    []Identifier                `json:"identifier,omitempty"`
	Questionnaire string                      `json:"questionnaire,omitempty"`
	Status        string                      `json:"status"` // in-progress | completed | amended | entered-in-error | stopped
	Subject       *Reference                  `json:"subject,omitempty"`
	Authored      *time.Time                  `json:"authored,omitempty"`
	Author        *Reference                  `json:"author,omitempty"`
	Item          []QuestionnaireResponseItem `json:"item,omitempty"`
}

// QuestionnaireResponseItem is one answered question or a group of sub-answers.
type QuestionnaireResponseItem struct {
	LinkID string                        `json:"linkId"`
	Text   string                        `json:"text,omitempty"`
	Answer []QuestionnaireResponseAnswer `json:"answer,omitempty"`
	Item   []QuestionnaireResponseItem   `json:"item,omitempty"`
}

// QuestionnaireResponseAnswer holds exactly one value[x].
type QuestionnaireResponseAnswer struct {
	ValueString     string      `json:"valueString,omitempty"`
	ValueInteger    *int        `json:"valueInteger,omitempty"`
	ValueDate       string      `json:"valueDate,omitempty"`
	ValueDateTime   *time.Time  `json:"valueDateTime,omitempty"`
	ValueBoolean    *bool       `json:"valueBoolean,omitempty"`
	ValueAttachment *Attachment `json:"valueAttachment,omitempty"`
}

// Attachment references stored content.
type Attachment struct {
	ContentType string     `json:"contentType,omitempty"`
	URL         string     `json:"url,omitempty"`
	Size        int64      `json:"size,omitempty"`
	Title       string     `json:"title,omitempty"`
	Creation    *time.Time `json:"creation,omitempty"`
}

// GetPatientID extracts the patient id from the subject reference.
func (q *QuestionnaireResponse) GetPatientID() string {
	if q.Subject == nil || q.Subject.Reference == "" {
		return ""
	}
	return extractIDFromReference(q.Subject.Reference)
}

// FindItem looks up a top-level item by link id.
func (q *QuestionnaireResponse) FindItem(linkID string) (*QuestionnaireResponseItem, bool) {
	for i := range q.Item {
		if q.Item[i].LinkID == linkID {
			return &q.Item[i], true
		}
	}
	return nil, false
}

// Strings returns the string answers of an item.
func (it *QuestionnaireResponseItem) Strings() []string {
	var out []string
	for _, a := range it.Answer {
		if a.ValueString != "" {
			out = append(out, a.ValueString)
		}
	}
	return out
}

// ToJSON serializes the QuestionnaireResponse to JSON.
func (q *QuestionnaireResponse) ToJSON() ([]byte, error) {
	return json.Marshal(q)
}

// FromJSON deserializes a QuestionnaireResponse from JSON.
func (q *QuestionnaireResponse) FromJSON(data []byte) error {
	return json.Unmarshal(data, q)
}

// extractIDFromReference handles references like "Patient/123" or "urn:uuid:123"
func extractIDFromReference(ref string) string {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' || ref[i] == ':' {
			return ref[i+1:]
		}
	}
	return ref
}
