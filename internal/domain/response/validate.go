package response

import (
	"fmt"
	"strings"
	"time"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// MaxIntensity is the top of the pain scale
const MaxIntensity = 10

// ValidateEntry checks an entry against the template item it answers and returns the normalized entry.
//
// File attachments are owned by the upload step, so any client-supplied attachments are dropped here
// and a required fileUpload item is checked by the caller against the submitted files.
func ValidateEntry(e Entry, q *template.Question) (Entry, error) {
	field := "entries[" + e.QuestionID + "]"
	if q == nil {
		return e, apperrors.NotFound("question", e.QuestionID)
	}
	if e.QuestionType != q.Type {
		return e, apperrors.Invalid(field, apperrors.CodeShapeMismatch,
			"questionType %q does not match item type %q", e.QuestionType, q.Type)
	}
	shape := q.Descriptor().Shape
	if e.Answer == nil {
		e.Answer = emptyAnswer(shape)
	}
	if e.Answer.Shape() != shape {
		return e, apperrors.Invalid(field, apperrors.CodeShapeMismatch,
			"answer shape %s does not fit %s", e.Answer.Shape(), q.Type)
	}

	if q.IsRequired && shape != template.ShapeFiles && shape != template.ShapeNone && e.Answer.Empty() {
		return e, apperrors.Invalid(field, apperrors.CodeRequired, "%q is required", q.QuestionText)
	}

	var err error
	switch a := e.Answer.(type) {
	case TextAnswer:
		a.Value = strings.TrimSpace(a.Value)
		err = checkChoice(field, q, a.Value)
		e.Answer = a
	case ChoicesAnswer:
		for _, v := range a.Values {
			if err = checkChoice(field, q, v); err != nil {
				break
			}
		}
	case MatrixAnswer:
		err = checkMatrix(field, q, a)
	case ObjectAnswer:
		err = checkObject(field, q, a)
	case FileAnswer:
		e.Answer = FileAnswer{Attachments: []Attachment{}}
	case SignatureAnswer:
		if a.Signature != nil && a.Signature.Data != "" && a.Signature.SignedAt.IsZero() {
			sig := *a.Signature
			sig.SignedAt = time.Now().UTC()
			e.Answer = SignatureAnswer{Signature: &sig}
		}
	case BodyMapAnswer:
		err = checkBodyMap(field, q, a)
	case MixedAnswer:
		var fixed MixedAnswer
		fixed, err = checkMixed(field, q, a)
		e.Answer = fixed
	}
	return e, err
}

func checkChoice(field string, q *template.Question, v string) error {
	c := q.Choices()
	if c == nil || v == "" || len(c.Options) == 0 {
		return nil
	}
	for _, opt := range c.Options {
		if opt == v {
			return nil
		}
	}
	return apperrors.Invalid(field, apperrors.CodeInvalidValue, "%q is not one of the options", v)
}

func checkMatrix(field string, q *template.Question, a MatrixAnswer) error {
	m := q.Matrix()
	if m == nil {
		return apperrors.Invalid(field, apperrors.CodeShapeMismatch, "item has no matrix config")
	}
	perRow := make(map[int]int, len(m.Rows))
	for i, c := range a.Cells {
		if c.RowIndex < 0 || c.RowIndex >= len(m.Rows) {
			return apperrors.Invalid(fmt.Sprintf("%s.matrixResponses[%d]", field, i), apperrors.CodeOutOfRange,
				"rowIndex %d outside %d rows", c.RowIndex, len(m.Rows))
		}
		if c.ColumnIndex < 0 || c.ColumnIndex >= len(m.ColumnHeaders) {
			return apperrors.Invalid(fmt.Sprintf("%s.matrixResponses[%d]", field, i), apperrors.CodeOutOfRange,
				"columnIndex %d outside %d columns", c.ColumnIndex, len(m.ColumnHeaders))
		}
		if strings.TrimSpace(c.Value) != "" {
			perRow[c.RowIndex]++
		}
	}
	if q.Type == template.TypeMatrixSingleAnswer {
		for row, n := range perRow {
			if n > 1 {
				return apperrors.Invalid(field, apperrors.CodeInvalidValue, "row %d has %d answers, expected one", row, n)
			}
		}
	}
	return nil
}

// checkObject enforces required sub-fields when the item is required or the group is partly filled
func checkObject(field string, q *template.Question, a ObjectAnswer) error {
	g := q.FieldGroup()
	if g == nil || (!q.IsRequired && !anyValue(a.Fields)) {
		return nil
	}
	for _, f := range g.Fields {
		if f.Required && isBlank(a.Fields[f.FieldName]) {
			return apperrors.Invalid(field+"."+f.FieldName, apperrors.CodeRequired, "%s is required", f.Label)
		}
	}
	return nil
}

func anyValue(fields map[string]interface{}) bool {
	for _, v := range fields {
		if !isBlank(v) {
			return true
		}
	}
	return false
}

func isBlank(v interface{}) bool {
	return v == nil || strings.TrimSpace(fmt.Sprint(v)) == ""
}

func checkBodyMap(field string, q *template.Question, a BodyMapAnswer) error {
	cfg := q.BodyMap()
	if cfg != nil && !cfg.AllowMarkings && len(a.Markings) > 0 {
		return apperrors.Invalid(field, apperrors.CodeInvalidValue, "markings are not allowed on this diagram")
	}
	return checkMarkings(field, a.Markings)
}

func checkMarkings(field string, marks []Marking) error {
	for i, m := range marks {
		if m.X < 0 || m.Y < 0 {
			return apperrors.Invalid(fmt.Sprintf("%s.bodyMapMarkings[%d]", field, i), apperrors.CodeOutOfRange, "coordinates must not be negative")
		}
		if m.Intensity != nil && (*m.Intensity < 0 || *m.Intensity > MaxIntensity) {
			return apperrors.Invalid(fmt.Sprintf("%s.bodyMapMarkings[%d]", field, i), apperrors.CodeOutOfRange,
				"intensity %d outside 0..%d", *m.Intensity, MaxIntensity)
		}
	}
	return nil
}

func checkMixed(field string, q *template.Question, a MixedAnswer) (MixedAnswer, error) {
	cfg := q.MixedControls()
	if cfg == nil {
		return a, apperrors.Invalid(field, apperrors.CodeShapeMismatch, "item has no inline controls")
	}
	out := MixedAnswer{Controls: make([]ControlResponse, 0, len(a.Controls))}
	for _, r := range a.Controls {
		ctl, ok := cfg.Control(r.ControlID)
		if !ok {
			return a, apperrors.Invalid(field, apperrors.CodeInvalidValue, "unknown control %q", r.ControlID)
		}
		if r.ControlType == "" {
			r.ControlType = ctl.ControlType
		}
		if r.ControlType != ctl.ControlType {
			return a, apperrors.Invalid(field, apperrors.CodeShapeMismatch,
				"control %q is %s, got %s", r.ControlID, ctl.ControlType, r.ControlType)
		}
		out.Controls = append(out.Controls, r)
	}
	return out, nil
}

// ValidateEntries validates a whole submission against its template.
// Every entry must reference an item of the template, and every required item must be answered.
// Items named in withFiles count as answered for required fileUpload items.
func ValidateEntries(entries []Entry, t *template.Template, withFiles map[string]bool) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		q, ok := t.Item(e.QuestionID)
		if !ok {
			return nil, apperrors.Invalid("entries["+e.QuestionID+"]", apperrors.CodeInvalidValue,
				"question %s is not part of template %s", e.QuestionID, t.ID)
		}
		if seen[e.QuestionID] {
			return nil, apperrors.Invalid("entries["+e.QuestionID+"]", apperrors.CodeInvalidValue, "question answered twice")
		}
		seen[e.QuestionID] = true

		v, err := ValidateEntry(e, q)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	for _, q := range t.Items {
		if !q.IsRequired {
			continue
		}
		switch q.Descriptor().Shape {
		case template.ShapeNone:
			continue
		case template.ShapeFiles:
			if !withFiles[q.StorageID] {
				return nil, apperrors.Invalid("entries["+q.StorageID+"]", apperrors.CodeRequired, "%q needs a file", q.QuestionText)
			}
			if !seen[q.StorageID] {
				e, _ := NewEntry(q.StorageID, q.Type)
				out = append(out, e)
				seen[q.StorageID] = true
			}
		default:
			if !seen[q.StorageID] {
				return nil, apperrors.Invalid("entries["+q.StorageID+"]", apperrors.CodeRequired, "%q is required", q.QuestionText)
			}
		}
	}

	// file items with uploads but no entry still need a slot to patch
	for _, q := range t.Items {
		if withFiles[q.StorageID] && !seen[q.StorageID] {
			e, _ := NewEntry(q.StorageID, q.Type)
			out = append(out, e)
			seen[q.StorageID] = true
		}
	}
	return out, nil
}
