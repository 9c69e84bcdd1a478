package response

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/template"
)

func question(t *testing.T, typ template.Type, storageID string) *template.Question {
	t.Helper()
	q, err := template.NewQuestion(typ)
	require.NoError(t, err)
	q.StorageID = storageID
	return q
}

func intPtr(v int) *int { return &v }

func TestValidateEntryTypeMismatch(t *testing.T) {
	q := question(t, template.TypeRadio, "q1")
	_, err := ValidateEntry(Entry{QuestionID: "q1", QuestionType: template.TypeCheckbox, Answer: ChoicesAnswer{}}, q)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apperrors.CodeShapeMismatch, verr.Code)
}

func TestValidateEntryRequired(t *testing.T) {
	q := question(t, template.TypeShortAnswer, "q1")
	q.IsRequired = true

	_, err := ValidateEntry(Entry{QuestionID: "q1", QuestionType: template.TypeShortAnswer, Answer: TextAnswer{Value: "  "}}, q)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apperrors.CodeRequired, verr.Code)

	got, err := ValidateEntry(Entry{QuestionID: "q1", QuestionType: template.TypeShortAnswer, Answer: TextAnswer{Value: " Ibuprofen "}}, q)
	require.NoError(t, err)
	assert.Equal(t, TextAnswer{Value: "Ibuprofen"}, got.Answer)
}

func TestValidateEntryOptions(t *testing.T) {
	q := question(t, template.TypeDropdown, "q1")
	_, err := ValidateEntry(Entry{QuestionID: "q1", QuestionType: template.TypeDropdown, Answer: TextAnswer{Value: "Option 2"}}, q)
	require.NoError(t, err)

	_, err = ValidateEntry(Entry{QuestionID: "q1", QuestionType: template.TypeDropdown, Answer: TextAnswer{Value: "Option 9"}}, q)
	assert.True(t, apperrors.IsValidation(err))

	cb := question(t, template.TypeCheckbox, "q2")
	_, err = ValidateEntry(Entry{QuestionID: "q2", QuestionType: template.TypeCheckbox, Answer: ChoicesAnswer{Values: []string{"Option 1", "Nope"}}}, cb)
	assert.True(t, apperrors.IsValidation(err))
}

func TestValidateMatrixBounds(t *testing.T) {
	q := question(t, template.TypeMatrixSingleAnswer, "m")
	ok := MatrixAnswer{Cells: []MatrixCell{{RowIndex: 2, ColumnIndex: 1, Value: "x"}}}
	_, err := ValidateEntry(Entry{QuestionID: "m", QuestionType: q.Type, Answer: ok}, q)
	require.NoError(t, err)

	outside := MatrixAnswer{Cells: []MatrixCell{{RowIndex: 3, ColumnIndex: 0, Value: "x"}}}
	_, err = ValidateEntry(Entry{QuestionID: "m", QuestionType: q.Type, Answer: outside}, q)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apperrors.CodeOutOfRange, verr.Code)

	twice := MatrixAnswer{Cells: []MatrixCell{{RowIndex: 0, ColumnIndex: 0, Value: "x"}, {RowIndex: 0, ColumnIndex: 1, Value: "y"}}}
	_, err = ValidateEntry(Entry{QuestionID: "m", QuestionType: q.Type, Answer: twice}, q)
	assert.True(t, apperrors.IsValidation(err))
}

func TestValidateBodyMapIntensity(t *testing.T) {
	q := question(t, template.TypeBodyMap, "b")
	bad := BodyMapAnswer{Markings: []Marking{{X: 10, Y: 10, Type: "knee", Intensity: intPtr(11)}}}
	_, err := ValidateEntry(Entry{QuestionID: "b", QuestionType: q.Type, Answer: bad}, q)
	assert.True(t, apperrors.IsValidation(err))
}

func TestValidateMixedControlsFillsType(t *testing.T) {
	q := question(t, template.TypeMixedControls, "m")
	got, err := ValidateEntry(Entry{QuestionID: "m", QuestionType: q.Type, Answer: MixedAnswer{Controls: []ControlResponse{{ControlID: "control-1", Value: "5mg"}}}}, q)
	require.NoError(t, err)
	assert.Equal(t, "text", got.Answer.(MixedAnswer).Controls[0].ControlType)

	_, err = ValidateEntry(Entry{QuestionID: "m", QuestionType: q.Type, Answer: MixedAnswer{Controls: []ControlResponse{{ControlID: "control-9"}}}}, q)
	assert.True(t, apperrors.IsValidation(err))
}

func TestValidateDropsClientAttachments(t *testing.T) {
	q := question(t, template.TypeFileUpload, "f")
	got, err := ValidateEntry(Entry{QuestionID: "f", QuestionType: q.Type, Answer: FileAnswer{Attachments: []Attachment{{FileName: "x.pdf", URL: "http://evil"}}}}, q)
	require.NoError(t, err)
	assert.Empty(t, got.Answer.(FileAnswer).Attachments)
}

func TestValidateSignatureStampsTime(t *testing.T) {
	q := question(t, template.TypeSignature, "s")
	got, err := ValidateEntry(Entry{QuestionID: "s", QuestionType: q.Type, Answer: SignatureAnswer{Signature: &Signature{Data: "data:image/png;base64,AAA"}}}, q)
	require.NoError(t, err)
	assert.False(t, got.Answer.(SignatureAnswer).Signature.SignedAt.IsZero())
}

func TestValidateEntries(t *testing.T) {
	name := question(t, template.TypeShortAnswer, "name")
	name.IsRequired = true
	file := question(t, template.TypeFileUpload, "card")
	file.IsRequired = true
	title := question(t, template.TypeSectionTitle, "title")
	title.IsRequired = true
	tmpl := &template.Template{ID: uuid.New(), Items: []*template.Question{title, name, file}}

	nameEntry := Entry{QuestionID: "name", QuestionType: template.TypeShortAnswer, Answer: TextAnswer{Value: "Jane"}}

	_, err := ValidateEntries([]Entry{nameEntry}, tmpl, nil)
	assert.True(t, apperrors.IsValidation(err), "missing required file")

	out, err := ValidateEntries([]Entry{nameEntry}, tmpl, map[string]bool{"card": true})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "card", out[1].QuestionID)
	assert.Equal(t, FileAnswer{Attachments: []Attachment{}}, out[1].Answer)

	_, err = ValidateEntries(nil, tmpl, map[string]bool{"card": true})
	assert.True(t, apperrors.IsValidation(err), "missing required text")

	stray := Entry{QuestionID: "nope", QuestionType: template.TypeShortAnswer, Answer: TextAnswer{Value: "x"}}
	_, err = ValidateEntries([]Entry{nameEntry, stray}, tmpl, map[string]bool{"card": true})
	assert.True(t, apperrors.IsValidation(err))
}

func TestRecordLifecycle(t *testing.T) {
	r, err := NewRecord(uuid.New(), "patient-1", Respondent{}, nil, StatusIncomplete)
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, r.Status)
	assert.Nil(t, r.CompletedAt)
	require.Len(t, r.Changes(), 1)
	assert.False(t, r.Mergeable())

	require.Error(t, r.Review("dr-who"))

	require.NoError(t, r.Complete())
	require.NotNil(t, r.CompletedAt)
	assert.True(t, r.Mergeable())

	err = r.Complete()
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, r.Review("dr-who"))
	assert.Equal(t, StatusReviewed, r.Status)
	require.NotNil(t, r.ReviewedAt)
	assert.Equal(t, 3, r.Version)

	types := make([]EventType, 0, len(r.Changes()))
	for _, ev := range r.Changes() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []EventType{EventResponseSubmitted, EventResponseCompleted, EventResponseReviewed}, types)
}

func TestNewRecordCompleted(t *testing.T) {
	r, err := NewRecord(uuid.New(), "", Respondent{}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.False(t, r.Mergeable(), "no patient to merge into")

	_, err = NewRecord(uuid.New(), "", Respondent{}, nil, StatusReviewed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAddAttachment(t *testing.T) {
	e, err := NewEntry("card", template.TypeFileUpload)
	require.NoError(t, err)
	r, err := NewRecord(uuid.New(), "p", Respondent{}, []Entry{e}, StatusCompleted)
	require.NoError(t, err)
	r.ClearChanges()

	require.NoError(t, r.AddAttachment("card", Attachment{FileName: "front.png", URL: "mem://front.png", Size: 10}))
	got, ok := r.Entry("card")
	require.True(t, ok)
	assert.Len(t, got.Answer.(FileAnswer).Attachments, 1)
	assert.Len(t, r.Changes(), 1)

	assert.Error(t, r.AddAttachment("missing", Attachment{}))
}

func TestNewIntakeRecord(t *testing.T) {
	_, err := NewIntakeRecord("", "intake", nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = NewIntakeRecord("p", "", []Section{{Name: "A", Fields: []Field{{FieldName: "x", FieldType: "hologram"}}}})
	assert.True(t, apperrors.IsValidation(err))

	in, err := NewIntakeRecord("p", "", []Section{{Name: "History", Fields: []Field{{FieldName: "Allergies", FieldType: template.TypeShortAnswer, FieldValue: "Latex"}}}})
	require.NoError(t, err)
	assert.Equal(t, "intake", in.FormType)
	require.Len(t, in.Changes(), 1)
	assert.Equal(t, EventIntakeSubmitted, in.Changes()[0].EventType)
}

func TestNewIntakeRecordChecksFieldShapes(t *testing.T) {
	cases := map[string]struct {
		field Field
		code  string
	}{
		"intensity above scale": {
			Field{FieldName: "Pain map", FieldType: template.TypeBodyMap, Markings: []Marking{{X: 10, Y: 10, Type: "knee", Intensity: intPtr(99)}}},
			apperrors.CodeOutOfRange,
		},
		"negative x in fieldValue": {
			Field{FieldName: "Pain map", FieldType: template.TypeBodyMap, FieldValue: []interface{}{
				map[string]interface{}{"x": -40.0, "y": 5.0, "type": "knee"},
			}},
			apperrors.CodeOutOfRange,
		},
		"markings not a list": {
			Field{FieldName: "Pain map", FieldType: template.TypeBodyMap, FieldValue: "left knee"},
			apperrors.CodeShapeMismatch,
		},
		"demographics as text": {
			Field{FieldName: "Patient", FieldType: template.TypeDemographics, FieldValue: "John Smith"},
			apperrors.CodeShapeMismatch,
		},
		"object for short answer": {
			Field{FieldName: "Allergies", FieldType: template.TypeShortAnswer, FieldValue: map[string]interface{}{"a": "b"}},
			apperrors.CodeShapeMismatch,
		},
		"numbers in checkbox list": {
			Field{FieldName: "Medications", FieldType: template.TypeCheckbox, FieldValue: []interface{}{"Aspirin", 3.0}},
			apperrors.CodeShapeMismatch,
		},
		"negative matrix row": {
			Field{FieldName: "Allergies", FieldType: template.TypeAllergies, MatrixValues: []MatrixCell{{RowIndex: -1, Value: "Latex"}}},
			apperrors.CodeOutOfRange,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewIntakeRecord("p1", "", []Section{{Name: "History", Fields: []Field{tc.field}}})
			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.code, verr.Code)
			assert.Contains(t, verr.Field, "sections[0].fields[0]")
		})
	}

	_, err := NewIntakeRecord("p1", "", []Section{{Name: "History", Fields: []Field{
		{FieldName: "Pain map", FieldType: template.TypeBodyMap, FieldValue: []interface{}{
			map[string]interface{}{"x": 20.0, "y": 5.0, "type": "knee", "intensity": 7.0},
		}},
		{FieldName: "Patient", FieldType: template.TypeDemographics, FieldValue: map[string]interface{}{"firstName": "John"}},
		{FieldName: "Medications", FieldType: template.TypeCheckbox, FieldValue: []interface{}{"Aspirin"}},
		{FieldName: "Notes", FieldValue: map[string]interface{}{"free": "form"}},
	}}})
	assert.NoError(t, err)
}

func TestOptionalFieldGroupRequiresSubfieldsOnceStarted(t *testing.T) {
	q := question(t, template.TypeDemographics, "d")
	require.False(t, q.IsRequired)

	_, err := ValidateEntry(Entry{QuestionID: "d", QuestionType: template.TypeDemographics, Answer: ObjectAnswer{Fields: map[string]interface{}{}}}, q)
	require.NoError(t, err)
	_, err = ValidateEntry(Entry{QuestionID: "d", QuestionType: template.TypeDemographics, Answer: ObjectAnswer{Fields: map[string]interface{}{"phone": " "}}}, q)
	require.NoError(t, err)

	_, err = ValidateEntry(Entry{QuestionID: "d", QuestionType: template.TypeDemographics, Answer: ObjectAnswer{Fields: map[string]interface{}{
		"lastName": "Smith", "dateOfBirth": "1980-01-01",
	}}}, q)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apperrors.CodeRequired, verr.Code)
	assert.Equal(t, "entries[d].firstName", verr.Field)

	_, err = ValidateEntry(Entry{QuestionID: "d", QuestionType: template.TypeDemographics, Answer: ObjectAnswer{Fields: map[string]interface{}{
		"firstName": "Jo", "lastName": "Smith", "dateOfBirth": "1980-01-01",
	}}}, q)
	assert.NoError(t, err)
}
