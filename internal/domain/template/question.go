package template

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/profile"
)

// DefaultDiagramWidth is the coordinate width of a body map diagram
const DefaultDiagramWidth = 100.0

// Config is the type-specific part of a question
type Config interface {
	accepts(t Type) bool
}

// TextConfig configures shortAnswer, paragraph and date
type TextConfig struct {
	Placeholder string `json:"placeholder"`
}

// ChoiceConfig configures dropdown, radio and checkbox
type ChoiceConfig struct {
	Options []string `json:"options"`
}

// MatrixConfig configures matrix, matrixSingleAnswer and allergies
type MatrixConfig struct {
	RowHeader            string     `json:"rowHeader"`
	ColumnHeaders        []string   `json:"columnHeaders"`
	ColumnTypes          []string   `json:"columnTypes"`
	Rows                 []string   `json:"rows"`
	DropdownOptions      [][]string `json:"dropdownOptions"`
	DisplayTextBox       bool       `json:"displayTextBox"`
	AllowMultipleAnswers bool       `json:"allowMultipleAnswers"`
}

// FieldSpec is one entry of a demographics or insurance group
type FieldSpec struct {
	FieldName string   `json:"fieldName"`
	Label     string   `json:"label"`
	FieldType string   `json:"fieldType"`
	Required  bool     `json:"required"`
	Options   []string `json:"options,omitempty"`
}

// FieldGroupConfig configures demographics and the insurance types
type FieldGroupConfig struct {
	Fields []FieldSpec `json:"fields"`
}

// FileConfig constrains uploads. MaxFileSize is in megabytes.
type FileConfig struct {
	FileTypes   []string `json:"fileTypes"`
	MaxFileSize int64    `json:"maxFileSize"`
}

// CheckUpload rejects a file whose extension is not listed or whose size exceeds MaxFileSize.
// An empty FileTypes list accepts any extension.
func (c *FileConfig) CheckUpload(field, name string, size int) error {
	if c == nil {
		return nil
	}
	if len(c.FileTypes) > 0 {
		ext := strings.ToLower(path.Ext(name))
		allowed := false
		for _, ft := range c.FileTypes {
			ft = strings.ToLower(strings.TrimSpace(ft))
			if !strings.HasPrefix(ft, ".") {
				ft = "." + ft
			}
			if ext == ft {
				allowed = true
				break
			}
		}
		if !allowed {
			return apperrors.Invalid(field, apperrors.CodeInvalidValue,
				"%s: file type %q is not one of %s", name, ext, strings.Join(c.FileTypes, ", "))
		}
	}
	if c.MaxFileSize > 0 && int64(size) > c.MaxFileSize<<20 {
		return apperrors.Invalid(field, apperrors.CodeOutOfRange,
			"%s: %d bytes exceeds the %d MB limit", name, size, c.MaxFileSize)
	}
	return nil
}

// SignatureConfig carries the signature prompt
type SignatureConfig struct {
	Prompt string `json:"prompt"`
}

// RichTextConfig carries display-only content
type RichTextConfig struct {
	Content string `json:"content"`
}

// BodyMapConfig configures a body diagram. Markings left of DiagramWidth/2 are the patient's left side.
type BodyMapConfig struct {
	Subtype       string  `json:"subtype"`
	AllowMarkings bool    `json:"allowMarkings"`
	DiagramWidth  float64 `json:"diagramWidth"`
}

// Midpoint returns the x coordinate splitting left from right
func (c *BodyMapConfig) Midpoint() float64 {
	if c == nil || c.DiagramWidth <= 0 {
		return DefaultDiagramWidth / 2
	}
	return c.DiagramWidth / 2
}

// InlineControl is one control inside a mixedControls question
type InlineControl struct {
	ID          string   `json:"id"`
	ControlType string   `json:"controlType"`
	Label       string   `json:"label"`
	Options     []string `json:"options,omitempty"`
}

// MixedControlsConfig lists inline controls
type MixedControlsConfig struct {
	Controls []InlineControl `json:"controls"`
}

// Control finds an inline control by id
func (c *MixedControlsConfig) Control(id string) (InlineControl, bool) {
	for _, ctl := range c.Controls {
		if ctl.ID == id {
			return ctl, true
		}
	}
	return InlineControl{}, false
}

// SectionTitleConfig configures a section divider
type SectionTitleConfig struct {
	Subtitle string `json:"subtitle"`
}

func (*TextConfig) accepts(t Type) bool {
	return t == TypeShortAnswer || t == TypeParagraph || t == TypeDate
}
func (*ChoiceConfig) accepts(t Type) bool {
	return t == TypeDropdown || t == TypeRadio || t == TypeCheckbox
}
func (*MatrixConfig) accepts(t Type) bool {
	return t == TypeMatrix || t == TypeMatrixSingleAnswer || t == TypeAllergies
}
func (*FieldGroupConfig) accepts(t Type) bool {
	return t == TypeDemographics || t == TypePrimaryInsurance || t == TypeSecondaryInsurance
}
func (*FileConfig) accepts(t Type) bool          { return t == TypeFileUpload }
func (*SignatureConfig) accepts(t Type) bool     { return t == TypeSignature }
func (*RichTextConfig) accepts(t Type) bool      { return t == TypeRichText }
func (*BodyMapConfig) accepts(t Type) bool       { return t == TypeBodyMap }
func (*MixedControlsConfig) accepts(t Type) bool { return t == TypeMixedControls }
func (*SectionTitleConfig) accepts(t Type) bool  { return t == TypeSectionTitle }

// Question is one item of a template.
//
// Key is the authoring identity, unique within an editing session and never stored.
// StorageID is assigned by the repository when the template is saved.
type Question struct {
	Key          string `json:"id,omitempty"`
	StorageID    string `json:"storageId,omitempty"`
	Type         Type   `json:"type"`
	QuestionText string `json:"questionText"`
	IsRequired   bool   `json:"isRequired"`
	Config       Config `json:"config"`
}

type questionWire struct {
	Key          json.RawMessage `json:"id,omitempty"`
	StorageID    string          `json:"storageId,omitempty"`
	Type         Type            `json:"type"`
	QuestionText string          `json:"questionText"`
	IsRequired   bool            `json:"isRequired"`
	Config       json.RawMessage `json:"config"`
}

// UnmarshalJSON decodes the config into the concrete type selected by the type tag.
// A non-string id decodes to an empty Key so the builder repair pass reassigns it.
func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !Known(w.Type) {
		return apperrors.Invalid("type", apperrors.CodeUnknownType, "unknown question type %q", w.Type)
	}
	cfg, err := configFor(w.Type)
	if err != nil {
		return err
	}
	if len(w.Config) > 0 && string(w.Config) != "null" {
		if err := json.Unmarshal(w.Config, cfg); err != nil {
			return &apperrors.ValidationError{
				Field:   "config",
				Code:    apperrors.CodeShapeMismatch,
				Message: fmt.Sprintf("config does not match type %q", w.Type),
				Cause:   err,
			}
		}
	}

	var key string
	if len(w.Key) > 0 {
		if err := json.Unmarshal(w.Key, &key); err != nil {
			key = ""
		}
	}

	*q = Question{
		Key:          key,
		StorageID:    w.StorageID,
		Type:         w.Type,
		QuestionText: w.QuestionText,
		IsRequired:   w.IsRequired,
		Config:       cfg,
	}
	return nil
}

// Clone returns a deep copy of q
func (q *Question) Clone() *Question {
	raw, err := json.Marshal(q)
	if err != nil {
		c := *q
		return &c
	}
	var out Question
	if err := json.Unmarshal(raw, &out); err != nil {
		c := *q
		return &c
	}
	return &out
}

// Descriptor returns the catalog entry for q's type
func (q *Question) Descriptor() Descriptor {
	return catalog[q.Type]
}

// Matrix returns the matrix config or nil
func (q *Question) Matrix() *MatrixConfig {
	c, _ := q.Config.(*MatrixConfig)
	return c
}

// Choices returns the choice config or nil
func (q *Question) Choices() *ChoiceConfig {
	c, _ := q.Config.(*ChoiceConfig)
	return c
}

// File returns the file config or nil
func (q *Question) File() *FileConfig {
	c, _ := q.Config.(*FileConfig)
	return c
}

// BodyMap returns the body map config or nil
func (q *Question) BodyMap() *BodyMapConfig {
	c, _ := q.Config.(*BodyMapConfig)
	return c
}

// MixedControls returns the mixed controls config or nil
func (q *Question) MixedControls() *MixedControlsConfig {
	c, _ := q.Config.(*MixedControlsConfig)
	return c
}

// FieldGroup returns the field group config or nil
func (q *Question) FieldGroup() *FieldGroupConfig {
	c, _ := q.Config.(*FieldGroupConfig)
	return c
}

// Validate checks that the config is consistent with the type
func (q *Question) Validate() error {
	if !Known(q.Type) {
		return apperrors.Invalid("type", apperrors.CodeUnknownType, "unknown question type %q", q.Type)
	}
	if q.Config == nil || !q.Config.accepts(q.Type) {
		return apperrors.Invalid("config", apperrors.CodeShapeMismatch, "config does not match type %q", q.Type)
	}

	switch c := q.Config.(type) {
	case *ChoiceConfig:
		if len(c.Options) == 0 {
			return apperrors.Invalid("config.options", apperrors.CodeRequired, "at least one option is required")
		}
	case *MatrixConfig:
		if len(c.Rows) == 0 || len(c.ColumnHeaders) == 0 {
			return apperrors.Invalid("config.rows", apperrors.CodeRequired, "matrix needs at least one row and one column")
		}
		if len(c.ColumnTypes) != len(c.ColumnHeaders) {
			return apperrors.Invalid("config.columnTypes", apperrors.CodeInvalidValue,
				"columnTypes has %d entries for %d columns", len(c.ColumnTypes), len(c.ColumnHeaders))
		}
		if len(c.DropdownOptions) != 0 && len(c.DropdownOptions) != len(c.ColumnHeaders) {
			return apperrors.Invalid("config.dropdownOptions", apperrors.CodeInvalidValue,
				"dropdownOptions has %d entries for %d columns", len(c.DropdownOptions), len(c.ColumnHeaders))
		}
	case *FieldGroupConfig:
		seen := make(map[string]bool, len(c.Fields))
		for _, f := range c.Fields {
			if f.FieldName == "" {
				return apperrors.Invalid("config.fields", apperrors.CodeRequired, "fieldName is required")
			}
			if seen[f.FieldName] {
				return apperrors.Invalid("config.fields", apperrors.CodeInvalidValue, "duplicate field %q", f.FieldName)
			}
			if q.Type == TypeDemographics && profile.Reserved(f.FieldName) {
				return apperrors.Invalid("config.fields", apperrors.CodeInvalidValue,
					"field name %q is reserved for canonical profile data", f.FieldName)
			}
			seen[f.FieldName] = true
		}
	case *FileConfig:
		if c.MaxFileSize <= 0 {
			return apperrors.Invalid("config.maxFileSize", apperrors.CodeOutOfRange, "maxFileSize must be positive")
		}
	case *BodyMapConfig:
		if c.DiagramWidth < 0 {
			return apperrors.Invalid("config.diagramWidth", apperrors.CodeOutOfRange, "diagramWidth must not be negative")
		}
	case *MixedControlsConfig:
		seen := make(map[string]bool, len(c.Controls))
		for _, ctl := range c.Controls {
			if ctl.ID == "" || seen[ctl.ID] {
				return apperrors.Invalid("config.controls", apperrors.CodeInvalidValue, "control ids must be present and unique")
			}
			seen[ctl.ID] = true
		}
	}
	return nil
}
