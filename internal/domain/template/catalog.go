// Package template implements the question type catalog and the form template aggregate.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/drfirst/go-intake/internal/apperrors"
)

// Type is one of the fixed question type tags
type Type string

const (
	TypeShortAnswer        Type = "shortAnswer"
	TypeParagraph          Type = "paragraph"
	TypeDate               Type = "date"
	TypeDropdown           Type = "dropdown"
	TypeRadio              Type = "radio"
	TypeCheckbox           Type = "checkbox"
	TypeMatrix             Type = "matrix"
	TypeMatrixSingleAnswer Type = "matrixSingleAnswer"
	TypeAllergies          Type = "allergies"
	TypeDemographics       Type = "demographics"
	TypePrimaryInsurance   Type = "primaryInsurance"
	TypeSecondaryInsurance Type = "secondaryInsurance"
	TypeFileUpload         Type = "fileUpload"
	TypeSignature          Type = "signature"
	TypeRichText           Type = "richText"
	TypeBodyMap            Type = "bodyMap"
	TypeMixedControls      Type = "mixedControls"
	TypeSectionTitle       Type = "sectionTitle"
)

// Shape is the answer variant a question type captures
type Shape string

const (
	ShapeScalar    Shape = "scalar"
	ShapeMulti     Shape = "multi"
	ShapeMatrix    Shape = "matrix"
	ShapeObject    Shape = "object"
	ShapeFiles     Shape = "files"
	ShapeSignature Shape = "signature"
	ShapeBodyMap   Shape = "bodyMap"
	ShapeMixed     Shape = "mixed"
	ShapeNone      Shape = "none"
)

// Descriptor describes one catalog entry
type Descriptor struct {
	Type        Type   `json:"type"`
	Label       string `json:"label"`
	Category    string `json:"category"`
	DefaultText string `json:"defaultText"`
	Shape       Shape  `json:"shape"`
	// DropWhenDefault marks types that are filtered out on save while untouched.
	DropWhenDefault bool `json:"dropWhenDefault"`

	defaults func() Config
}

var catalog = map[Type]Descriptor{
	TypeShortAnswer: {Label: "Short Answer", Category: "basic", DefaultText: "Untitled Question", Shape: ShapeScalar,
		defaults: func() Config { return &TextConfig{Placeholder: ""} }},
	TypeParagraph: {Label: "Paragraph", Category: "basic", DefaultText: "Untitled Question", Shape: ShapeScalar,
		defaults: func() Config { return &TextConfig{Placeholder: ""} }},
	TypeDate: {Label: "Date", Category: "basic", DefaultText: "Date", Shape: ShapeScalar,
		defaults: func() Config { return &TextConfig{Placeholder: "MM/DD/YYYY"} }},
	TypeDropdown: {Label: "Dropdown", Category: "choice", DefaultText: "Untitled Question", Shape: ShapeScalar,
		defaults: func() Config { return &ChoiceConfig{Options: []string{"Option 1", "Option 2"}} }},
	TypeRadio: {Label: "Multiple Choice", Category: "choice", DefaultText: "Untitled Question", Shape: ShapeScalar,
		defaults: func() Config { return &ChoiceConfig{Options: []string{"Option 1", "Option 2"}} }},
	TypeCheckbox: {Label: "Checkboxes", Category: "choice", DefaultText: "Untitled Question", Shape: ShapeMulti,
		defaults: func() Config { return &ChoiceConfig{Options: []string{"Option 1", "Option 2"}} }},
	TypeMatrix: {Label: "Matrix", Category: "matrix", DefaultText: "Untitled Matrix", Shape: ShapeMatrix, DropWhenDefault: true,
		defaults: func() Config { return defaultMatrix("text", true) }},
	TypeMatrixSingleAnswer: {Label: "Matrix (Single Answer)", Category: "matrix", DefaultText: "Untitled Matrix", Shape: ShapeMatrix, DropWhenDefault: true,
		defaults: func() Config { return defaultMatrix("radio", false) }},
	TypeAllergies: {Label: "Allergies", Category: "clinical", DefaultText: "Allergies", Shape: ShapeMatrix,
		defaults: func() Config {
			return &MatrixConfig{
				RowHeader:       "#",
				ColumnHeaders:   []string{"Allergy"},
				ColumnTypes:     []string{"text"},
				Rows:            []string{"1", "2", "3"},
				DropdownOptions: [][]string{{}},
				DisplayTextBox:  true,
			}
		}},
	TypeDemographics: {Label: "Demographics", Category: "clinical", DefaultText: "Patient Information", Shape: ShapeObject,
		defaults: func() Config { return &FieldGroupConfig{Fields: demographicFields()} }},
	TypePrimaryInsurance: {Label: "Primary Insurance", Category: "clinical", DefaultText: "Primary Insurance", Shape: ShapeObject,
		defaults: func() Config { return &FieldGroupConfig{Fields: insuranceFields()} }},
	TypeSecondaryInsurance: {Label: "Secondary Insurance", Category: "clinical", DefaultText: "Secondary Insurance", Shape: ShapeObject,
		defaults: func() Config { return &FieldGroupConfig{Fields: insuranceFields()} }},
	TypeFileUpload: {Label: "File Upload", Category: "media", DefaultText: "Upload a file", Shape: ShapeFiles,
		defaults: func() Config {
			return &FileConfig{FileTypes: []string{".pdf", ".jpg", ".jpeg", ".png"}, MaxFileSize: 10}
		}},
	TypeSignature: {Label: "Signature", Category: "media", DefaultText: "Signature", Shape: ShapeSignature,
		defaults: func() Config { return &SignatureConfig{Prompt: "Please sign below"} }},
	TypeRichText: {Label: "Rich Text", Category: "layout", DefaultText: "Rich Text", Shape: ShapeNone,
		defaults: func() Config { return &RichTextConfig{Content: "<p>Enter text here</p>"} }},
	TypeBodyMap: {Label: "Body Map", Category: "clinical", DefaultText: "Mark areas of pain", Shape: ShapeBodyMap,
		defaults: func() Config {
			return &BodyMapConfig{Subtype: "fullBody", AllowMarkings: true, DiagramWidth: DefaultDiagramWidth}
		}},
	TypeMixedControls: {Label: "Mixed Controls", Category: "basic", DefaultText: "Untitled Question", Shape: ShapeMixed,
		defaults: func() Config {
			return &MixedControlsConfig{Controls: []InlineControl{{ID: "control-1", ControlType: "text", Label: "Label"}}}
		}},
	TypeSectionTitle: {Label: "Section Title", Category: "layout", DefaultText: "Section Title", Shape: ShapeNone, DropWhenDefault: true,
		defaults: func() Config { return &SectionTitleConfig{Subtitle: ""} }},
}

func init() {
	for t, d := range catalog {
		d.Type = t
		catalog[t] = d
	}
}

func defaultMatrix(columnType string, multi bool) *MatrixConfig {
	return &MatrixConfig{
		RowHeader:            "",
		ColumnHeaders:        []string{"Column 1", "Column 2", "Column 3"},
		ColumnTypes:          []string{columnType, columnType, columnType},
		Rows:                 []string{"Row 1", "Row 2", "Row 3"},
		DropdownOptions:      [][]string{{}, {}, {}},
		DisplayTextBox:       false,
		AllowMultipleAnswers: multi,
	}
}

func demographicFields() []FieldSpec {
	return []FieldSpec{
		{FieldName: "firstName", Label: "First Name", FieldType: "text", Required: true},
		{FieldName: "lastName", Label: "Last Name", FieldType: "text", Required: true},
		{FieldName: "dateOfBirth", Label: "Date of Birth", FieldType: "date", Required: true},
		{FieldName: "gender", Label: "Gender", FieldType: "dropdown", Options: []string{"Male", "Female", "Other", "Prefer not to say"}},
		{FieldName: "phone", Label: "Phone", FieldType: "text"},
		{FieldName: "email", Label: "Email", FieldType: "text"},
		{FieldName: "address", Label: "Address", FieldType: "text"},
	}
}

func insuranceFields() []FieldSpec {
	return []FieldSpec{
		{FieldName: "provider", Label: "Insurance Provider", FieldType: "text", Required: true},
		{FieldName: "policyNumber", Label: "Policy Number", FieldType: "text", Required: true},
		{FieldName: "groupNumber", Label: "Group Number", FieldType: "text"},
		{FieldName: "subscriberName", Label: "Subscriber Name", FieldType: "text"},
		{FieldName: "subscriberDateOfBirth", Label: "Subscriber Date of Birth", FieldType: "date"},
		{FieldName: "relationship", Label: "Relationship to Subscriber", FieldType: "dropdown", Options: []string{"Self", "Spouse", "Child", "Other"}},
	}
}

// Lookup returns the descriptor for a type
func Lookup(t Type) (Descriptor, bool) {
	d, ok := catalog[t]
	return d, ok
}

// Known reports whether t is a catalog type
func Known(t Type) bool {
	_, ok := catalog[t]
	return ok
}

// Descriptors returns every catalog entry ordered by type tag
func Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// DefaultConfig returns a fresh copy of the factory configuration for t
func DefaultConfig(t Type) (Config, error) {
	d, ok := catalog[t]
	if !ok {
		return nil, apperrors.Invalid("type", apperrors.CodeUnknownType, "unknown question type %q", t)
	}
	return d.defaults(), nil
}

// NewKey mints an authoring key
func NewKey() string {
	return uuid.NewString()
}

// NewQuestion returns a question of type t carrying the factory defaults and a fresh authoring key.
func NewQuestion(t Type) (*Question, error) {
	cfg, err := DefaultConfig(t)
	if err != nil {
		return nil, err
	}
	return &Question{
		Key:          NewKey(),
		Type:         t,
		QuestionText: catalog[t].DefaultText,
		IsRequired:   false,
		Config:       cfg,
	}, nil
}

// IsDefaultUnmodified reports whether q still equals the factory output for its type.
// Identity fields are ignored; text, the required flag and every config field are compared.
func IsDefaultUnmodified(q *Question) bool {
	if q == nil {
		return false
	}
	d, ok := catalog[q.Type]
	if !ok {
		return false
	}
	if q.QuestionText != d.DefaultText || q.IsRequired {
		return false
	}
	if q.Config == nil {
		return false
	}
	got, err := json.Marshal(q.Config)
	if err != nil {
		return false
	}
	want, err := json.Marshal(d.defaults())
	if err != nil {
		return false
	}
	return bytes.Equal(got, want)
}

// DroppedOnSave reports whether q is a default placeholder that must not be persisted.
func DroppedOnSave(q *Question) bool {
	d, ok := catalog[q.Type]
	return ok && d.DropWhenDefault && IsDefaultUnmodified(q)
}

func configFor(t Type) (Config, error) {
	switch t {
	case TypeShortAnswer, TypeParagraph, TypeDate:
		return &TextConfig{}, nil
	case TypeDropdown, TypeRadio, TypeCheckbox:
		return &ChoiceConfig{}, nil
	case TypeMatrix, TypeMatrixSingleAnswer, TypeAllergies:
		return &MatrixConfig{}, nil
	case TypeDemographics, TypePrimaryInsurance, TypeSecondaryInsurance:
		return &FieldGroupConfig{}, nil
	case TypeFileUpload:
		return &FileConfig{}, nil
	case TypeSignature:
		return &SignatureConfig{}, nil
	case TypeRichText:
		return &RichTextConfig{}, nil
	case TypeBodyMap:
		return &BodyMapConfig{}, nil
	case TypeMixedControls:
		return &MixedControlsConfig{}, nil
	case TypeSectionTitle:
		return &SectionTitleConfig{}, nil
	}
	return nil, fmt.Errorf("no config for type %q", t)
}
