// Package response implements captured answers, the form response aggregate and intake records.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// Answer is the captured value of one entry; the concrete type follows the question's shape.
type Answer interface {
	Shape() template.Shape
	Empty() bool
}

// TextAnswer holds a single value
type TextAnswer struct{ Value string }

// ChoicesAnswer holds checkbox selections
type ChoicesAnswer struct{ Values []string }

// ObjectAnswer holds demographics or insurance sub-fields
type ObjectAnswer struct{ Fields map[string]interface{} }

// MatrixAnswer holds matrix cells
type MatrixAnswer struct{ Cells []MatrixCell }

// FileAnswer holds stored attachments
type FileAnswer struct{ Attachments []Attachment }

// SignatureAnswer holds a captured signature
type SignatureAnswer struct{ Signature *Signature }

// BodyMapAnswer holds body map markings
type BodyMapAnswer struct{ Markings []Marking }

// MixedAnswer holds inline control values
type MixedAnswer struct{ Controls []ControlResponse }

// NoAnswer is used by display-only items
type NoAnswer struct{}

func (TextAnswer) Shape() template.Shape      { return template.ShapeScalar }
func (ChoicesAnswer) Shape() template.Shape   { return template.ShapeMulti }
func (ObjectAnswer) Shape() template.Shape    { return template.ShapeObject }
func (MatrixAnswer) Shape() template.Shape    { return template.ShapeMatrix }
func (FileAnswer) Shape() template.Shape      { return template.ShapeFiles }
func (SignatureAnswer) Shape() template.Shape { return template.ShapeSignature }
func (BodyMapAnswer) Shape() template.Shape   { return template.ShapeBodyMap }
func (MixedAnswer) Shape() template.Shape     { return template.ShapeMixed }
func (NoAnswer) Shape() template.Shape        { return template.ShapeNone }

func (a TextAnswer) Empty() bool    { return strings.TrimSpace(a.Value) == "" }
func (a ChoicesAnswer) Empty() bool { return len(a.Values) == 0 }
func (a ObjectAnswer) Empty() bool  { return len(a.Fields) == 0 }
func (a MatrixAnswer) Empty() bool {
	for _, c := range a.Cells {
		if strings.TrimSpace(c.Value) != "" {
			return false
		}
	}
	return true
}
func (a FileAnswer) Empty() bool      { return len(a.Attachments) == 0 }
func (a SignatureAnswer) Empty() bool { return a.Signature == nil || a.Signature.Data == "" }
func (a BodyMapAnswer) Empty() bool   { return len(a.Markings) == 0 }
func (a MixedAnswer) Empty() bool     { return len(a.Controls) == 0 }
func (NoAnswer) Empty() bool          { return true }

// MatrixCell is one answered cell
type MatrixCell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Value       string `json:"value"`
}

// Attachment is a stored file
type Attachment struct {
	FileName    string    `json:"fileName"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"storageKey,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Signature is a drawn or typed signature
type Signature struct {
	Data     string    `json:"data"`
	SignedAt time.Time `json:"signedAt"`
	SignedBy string    `json:"signedBy,omitempty"`
}

// Marking is a point on a body map diagram
type Marking struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Type      string  `json:"type"`
	Intensity *int    `json:"intensity,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// ControlResponse is the value of one inline control
type ControlResponse struct {
	ControlID   string      `json:"controlId"`
	ControlType string      `json:"controlType"`
	Value       interface{} `json:"value"`
}

// Entry is one answered question
type Entry struct {
	QuestionID   string
	QuestionType template.Type
	Answer       Answer
}

type entryWire struct {
	QuestionID             string          `json:"questionId"`
	QuestionType           template.Type   `json:"questionType"`
	Answer                 json.RawMessage `json:"answer,omitempty"`
	MatrixResponses        json.RawMessage `json:"matrixResponses,omitempty"`
	FileAttachments        json.RawMessage `json:"fileAttachments,omitempty"`
	Signature              json.RawMessage `json:"signature,omitempty"`
	BodyMapMarkings        json.RawMessage `json:"bodyMapMarkings,omitempty"`
	MixedControlsResponses json.RawMessage `json:"mixedControlsResponses,omitempty"`
}

// NewEntry builds an entry with the empty answer for the question's shape
func NewEntry(questionID string, t template.Type) (Entry, error) {
	d, ok := template.Lookup(t)
	if !ok {
		return Entry{}, apperrors.Invalid("questionType", apperrors.CodeUnknownType, "unknown question type %q", t)
	}
	return Entry{QuestionID: questionID, QuestionType: t, Answer: emptyAnswer(d.Shape)}, nil
}

func emptyAnswer(s template.Shape) Answer {
	switch s {
	case template.ShapeScalar:
		return TextAnswer{}
	case template.ShapeMulti:
		return ChoicesAnswer{Values: []string{}}
	case template.ShapeObject:
		return ObjectAnswer{Fields: map[string]interface{}{}}
	case template.ShapeMatrix:
		return MatrixAnswer{Cells: []MatrixCell{}}
	case template.ShapeFiles:
		return FileAnswer{Attachments: []Attachment{}}
	case template.ShapeSignature:
		return SignatureAnswer{}
	case template.ShapeBodyMap:
		return BodyMapAnswer{Markings: []Marking{}}
	case template.ShapeMixed:
		return MixedAnswer{Controls: []ControlResponse{}}
	}
	return NoAnswer{}
}

// MarshalJSON always emits the sub-structure of the entry's shape, empty when unanswered.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"questionId":   e.QuestionID,
		"questionType": e.QuestionType,
	}
	answer := e.Answer
	if answer == nil {
		d, _ := template.Lookup(e.QuestionType)
		answer = emptyAnswer(d.Shape)
	}

	switch a := answer.(type) {
	case TextAnswer:
		out["answer"] = a.Value
	case ChoicesAnswer:
		out["answer"] = nonNil(a.Values)
	case ObjectAnswer:
		if a.Fields == nil {
			a.Fields = map[string]interface{}{}
		}
		out["answer"] = a.Fields
	case MatrixAnswer:
		out["matrixResponses"] = nonNil(a.Cells)
	case FileAnswer:
		out["fileAttachments"] = nonNil(a.Attachments)
	case SignatureAnswer:
		out["signature"] = a.Signature
	case BodyMapAnswer:
		out["bodyMapMarkings"] = nonNil(a.Markings)
	case MixedAnswer:
		out["mixedControlsResponses"] = nonNil(a.Controls)
	}
	return json.Marshal(out)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// UnmarshalJSON decodes the variant selected by questionType.
// A variant that does not fit the declared type is a ValidationError.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d, ok := template.Lookup(w.QuestionType)
	if !ok {
		return apperrors.Invalid("questionType", apperrors.CodeUnknownType, "unknown question type %q", w.QuestionType)
	}
	variants := map[string][]byte{
		"answer":                 w.Answer,
		"matrixResponses":        w.MatrixResponses,
		"fileAttachments":        w.FileAttachments,
		"signature":              w.Signature,
		"bodyMapMarkings":        w.BodyMapMarkings,
		"mixedControlsResponses": w.MixedControlsResponses,
	}

	own := variantField(d.Shape)
	for name, raw := range variants {
		if name != own && !blank(raw) {
			return mismatch(w.QuestionID, w.QuestionType, fmt.Sprintf("unexpected %s", name), nil)
		}
	}

	answer, err := decodeAnswer(d.Shape, variants[own])
	if err != nil {
		return mismatch(w.QuestionID, w.QuestionType, "answer does not match question type", err)
	}
	*e = Entry{QuestionID: w.QuestionID, QuestionType: w.QuestionType, Answer: answer}
	return nil
}

func variantField(s template.Shape) string {
	switch s {
	case template.ShapeMatrix:
		return "matrixResponses"
	case template.ShapeFiles:
		return "fileAttachments"
	case template.ShapeSignature:
		return "signature"
	case template.ShapeBodyMap:
		return "bodyMapMarkings"
	case template.ShapeMixed:
		return "mixedControlsResponses"
	case template.ShapeNone:
		return ""
	}
	return "answer"
}

func decodeAnswer(s template.Shape, raw []byte) (Answer, error) {
	if blankOrNull(raw) {
		return emptyAnswer(s), nil
	}
	switch s {
	case template.ShapeScalar:
		v, err := scalarString(raw)
		return TextAnswer{Value: v}, err
	case template.ShapeMulti:
		var vals []string
		err := json.Unmarshal(raw, &vals)
		return ChoicesAnswer{Values: nonNil(vals)}, err
	case template.ShapeObject:
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			fields = map[string]interface{}{}
		}
		return ObjectAnswer{Fields: fields}, nil
	case template.ShapeMatrix:
		var cells []MatrixCell
		err := json.Unmarshal(raw, &cells)
		return MatrixAnswer{Cells: nonNil(cells)}, err
	case template.ShapeFiles:
		var atts []Attachment
		err := json.Unmarshal(raw, &atts)
		return FileAnswer{Attachments: nonNil(atts)}, err
	case template.ShapeSignature:
		var sig Signature
		if err := json.Unmarshal(raw, &sig); err != nil {
			return nil, err
		}
		return SignatureAnswer{Signature: &sig}, nil
	case template.ShapeBodyMap:
		var marks []Marking
		err := json.Unmarshal(raw, &marks)
		return BodyMapAnswer{Markings: nonNil(marks)}, err
	case template.ShapeMixed:
		var ctl []ControlResponse
		err := json.Unmarshal(raw, &ctl)
		return MixedAnswer{Controls: nonNil(ctl)}, err
	}
	return NoAnswer{}, nil
}

// scalarString accepts strings, numbers and booleans
func scalarString(raw []byte) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("expected a single value, got %s", truncate(raw))
}

func blankOrNull(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || string(t) == "null"
}

func blank(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	switch string(t) {
	case "", "null", "[]", "{}", `""`:
		return true
	}
	return false
}

func truncate(raw []byte) string {
	if len(raw) > 40 {
		return string(raw[:40]) + "..."
	}
	return string(raw)
}

func mismatch(questionID string, t template.Type, msg string, cause error) error {
	return &apperrors.ValidationError{
		Field:   "entries[" + questionID + "]",
		Code:    apperrors.CodeShapeMismatch,
		Message: fmt.Sprintf("%s for %s", msg, t),
		Cause:   cause,
	}
}
