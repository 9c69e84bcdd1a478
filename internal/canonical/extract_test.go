package canonical

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
)

func item(t *testing.T, typ template.Type, id, text string) *template.Question {
	t.Helper()
	q, err := template.NewQuestion(typ)
	require.NoError(t, err)
	q.StorageID = id
	if text != "" {
		q.QuestionText = text
	}
	return q
}

func record(entries ...response.Entry) *response.Record {
	return &response.Record{ID: uuid.New(), PatientID: "p1", Status: response.StatusCompleted, Entries: entries}
}

func intensity(v int) *int { return &v }

func TestAllergyMatrixDedupes(t *testing.T) {
	r := record(response.Entry{QuestionID: "a", QuestionType: template.TypeAllergies, Answer: response.MatrixAnswer{Cells: []response.MatrixCell{
		{RowIndex: 0, Value: "Penicillin"},
		{RowIndex: 1, Value: " Penicillin "},
		{RowIndex: 2, Value: ""},
	}}})
	got := Extract(r, nil)
	assert.Equal(t, []string{"Penicillin"}, got.Allergies)
}

func TestBodyMapSides(t *testing.T) {
	r := record(response.Entry{QuestionID: "b", QuestionType: template.TypeBodyMap, Answer: response.BodyMapAnswer{Markings: []response.Marking{
		{X: 10, Y: 40, Type: "wrist", Intensity: intensity(3)},
		{X: 90, Y: 40, Type: "wrist", Intensity: intensity(7)},
		{X: 12, Y: 41, Type: "wrist"},
		{X: 50, Y: 80, Type: ""},
	}}})
	got := Extract(r, nil)

	want := []BodyPart{{Part: "wrist", Side: SideLeft}, {Part: "wrist", Side: SideRight}}
	if diff := cmp.Diff(want, got.BodyParts); diff != "" {
		t.Errorf("body parts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "7", got.PainIntensity)
}

func TestBodyMapUsesTemplateWidth(t *testing.T) {
	q := item(t, template.TypeBodyMap, "b", "")
	q.BodyMap().DiagramWidth = 400
	tmpl := &template.Template{Items: []*template.Question{q}}

	r := record(response.Entry{QuestionID: "b", QuestionType: template.TypeBodyMap, Answer: response.BodyMapAnswer{Markings: []response.Marking{
		{X: 90, Y: 10, Type: "knee"},
	}}})
	assert.Equal(t, []BodyPart{{Part: "knee", Side: SideLeft}}, Extract(r, tmpl).BodyParts)

	wide := NewExtractor(WithDiagramWidth(1000))
	assert.Equal(t, []BodyPart{{Part: "knee", Side: SideLeft}}, wide.Extract(r, nil).BodyParts)
	assert.Equal(t, []BodyPart{{Part: "knee", Side: SideRight}}, Extract(r, nil).BodyParts)
}

func TestDemographicsAndInsurance(t *testing.T) {
	r := record(
		response.Entry{QuestionID: "d", QuestionType: template.TypeDemographics, Answer: response.ObjectAnswer{Fields: map[string]interface{}{
			"firstName": "Ada", "lastName": "Lovelace", "phone": "",
		}}},
		response.Entry{QuestionID: "i", QuestionType: template.TypePrimaryInsurance, Answer: response.ObjectAnswer{Fields: map[string]interface{}{
			"provider": "Acme", "policyNumber": "X1",
		}}},
		response.Entry{QuestionID: "s", QuestionType: template.TypeSecondaryInsurance, Answer: response.ObjectAnswer{Fields: map[string]interface{}{}}},
	)
	got := Extract(r, nil)
	assert.Equal(t, map[string]interface{}{"firstName": "Ada", "lastName": "Lovelace"}, got.Demographics)
	assert.Equal(t, map[string]interface{}{"provider": "Acme", "policyNumber": "X1"}, got.PrimaryInsurance)
	assert.Nil(t, got.SecondaryInsurance)
}

func TestFreeformHeuristics(t *testing.T) {
	tmpl := &template.Template{Items: []*template.Question{
		item(t, template.TypeParagraph, "meds", "Current Medications"),
		item(t, template.TypeShortAnswer, "dx", "Prior diagnosis"),
		item(t, template.TypeShortAnswer, "fh", "Family history of conditions"),
		item(t, template.TypeShortAnswer, "ops", "Previous operations"),
		item(t, template.TypeCheckbox, "sx", "Symptoms"),
		item(t, template.TypeShortAnswer, "pl", "Pain level (0-10)"),
		item(t, template.TypeShortAnswer, "ps", "Rate your pain severity"),
		item(t, template.TypeShortAnswer, "pq", "Pain quality"),
		item(t, template.TypeShortAnswer, "alg", "Any drug allergies?"),
		item(t, template.TypeShortAnswer, "other", "Favourite colour"),
	}}

	r := record(
		response.Entry{QuestionID: "meds", QuestionType: template.TypeParagraph, Answer: response.TextAnswer{Value: "Metformin"}},
		response.Entry{QuestionID: "dx", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "Asthma"}},
		response.Entry{QuestionID: "fh", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "Diabetes"}},
		response.Entry{QuestionID: "ops", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "Appendectomy"}},
		response.Entry{QuestionID: "sx", QuestionType: template.TypeCheckbox, Answer: response.ChoicesAnswer{Values: []string{"Cough", "Fever"}}},
		response.Entry{QuestionID: "pl", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "4"}},
		response.Entry{QuestionID: "ps", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "6"}},
		response.Entry{QuestionID: "pq", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "Throbbing"}},
		response.Entry{QuestionID: "alg", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "Latex"}},
		response.Entry{QuestionID: "other", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "Blue"}},
	)

	got := Extract(r, tmpl)
	want := MedicalData{
		Allergies:     []string{"Latex"},
		Medications:   []string{"Metformin"},
		Conditions:    []string{"Asthma"},
		Surgeries:     []string{"Appendectomy"},
		FamilyHistory: []string{"Diabetes"},
		Symptoms:      []string{"Cough", "Fever"},
		PainQuality:   []string{"Throbbing"},
		PainIntensity: "6",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("extraction mismatch (-want +got):\n%s", diff)
	}
}

func TestPainIntensityTakesMaxAcrossSources(t *testing.T) {
	tmpl := &template.Template{Items: []*template.Question{item(t, template.TypeShortAnswer, "pl", "Pain level")}}
	r := record(
		response.Entry{QuestionID: "pl", QuestionType: template.TypeShortAnswer, Answer: response.TextAnswer{Value: "9"}},
		response.Entry{QuestionID: "b", QuestionType: template.TypeBodyMap, Answer: response.BodyMapAnswer{Markings: []response.Marking{{X: 1, Type: "neck", Intensity: intensity(5)}}}},
	)
	assert.Equal(t, "9", Extract(r, tmpl).PainIntensity)

	r.Entries[0].Answer = response.TextAnswer{Value: "moderate"}
	assert.Equal(t, "5", Extract(r, tmpl).PainIntensity)

	r.Entries = r.Entries[:1]
	assert.Equal(t, "moderate", Extract(r, tmpl).PainIntensity)
}

func TestExtractIsPure(t *testing.T) {
	r := record(response.Entry{QuestionID: "a", QuestionType: template.TypeAllergies, Answer: response.MatrixAnswer{Cells: []response.MatrixCell{{Value: "Peanuts"}}}})
	first := Extract(r, nil)
	second := Extract(r, nil)
	assert.Equal(t, first, second)
	assert.Equal(t, "Peanuts", r.Entries[0].Answer.(response.MatrixAnswer).Cells[0].Value)
}

func TestExtractIntake(t *testing.T) {
	in := &response.IntakeRecord{PatientID: "p1", Sections: []response.Section{
		{Name: "History", Fields: []response.Field{
			{FieldName: "Allergies", FieldType: template.TypeAllergies, MatrixValues: []response.MatrixCell{{Value: "Sulfa"}}},
			{FieldName: "Medications", FieldValue: []interface{}{"Lisinopril", "Aspirin"}},
			{FieldName: "Medical conditions", FieldType: template.TypeShortAnswer, FieldValue: "Hypertension"},
			{FieldName: "Pain map", FieldType: template.TypeBodyMap, FieldValue: []interface{}{
				map[string]interface{}{"x": 70.0, "y": 20.0, "type": "shoulder", "intensity": 4.0},
			}},
		}},
		{Name: "Coverage", Fields: []response.Field{
			{FieldName: "Primary", FieldType: template.TypePrimaryInsurance, FieldValue: map[string]interface{}{"provider": "Acme"}},
			{FieldName: "Notes", FieldValue: map[string]interface{}{"ignored": true}},
		}},
	}}

	got := ExtractIntake(in)
	assert.Equal(t, []string{"Sulfa"}, got.Allergies)
	assert.Equal(t, []string{"Lisinopril", "Aspirin"}, got.Medications)
	assert.Equal(t, []string{"Hypertension"}, got.Conditions)
	assert.Equal(t, []BodyPart{{Part: "shoulder", Side: SideRight}}, got.BodyParts)
	assert.Equal(t, "4", got.PainIntensity)
	assert.Equal(t, map[string]interface{}{"provider": "Acme"}, got.PrimaryInsurance)
}

func TestParseRulesRejectsBadTable(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - match: [\"*x*\"]\n"))
	assert.Error(t, err)

	rs, err := ParseRules([]byte("rules:\n  - field: symptoms\n    match: [\"*complaint*\"]\n"))
	require.NoError(t, err)
	r, ok := rs.Match("Chief Complaint")
	require.True(t, ok)
	assert.Equal(t, "symptoms", r.Field)

	_, ok = rs.Match("")
	assert.False(t, ok)
}
