package canonical

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// Extractor turns completed forms into MedicalData. It holds no mutable state.
type Extractor struct {
	rules *Rules
	width float64
}

// Option configures an Extractor
type Option func(*Extractor)

// WithRules replaces the freeform rule table
func WithRules(r *Rules) Option {
	return func(e *Extractor) { e.rules = r }
}

// WithDiagramWidth sets the body map width used when a template does not carry one
func WithDiagramWidth(w float64) Option {
	return func(e *Extractor) {
		if w > 0 {
			e.width = w
		}
	}
}

// NewExtractor creates an extractor with the embedded rules and the default diagram width
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{rules: DefaultRules(), width: template.DefaultDiagramWidth}
	for _, o := range opts {
		o(e)
	}
	return e
}

var defaultExtractor = NewExtractor()

// Extract runs the default extractor over a response
func Extract(r *response.Record, t *template.Template) MedicalData {
	return defaultExtractor.Extract(r, t)
}

// ExtractIntake runs the default extractor over an intake record
func ExtractIntake(in *response.IntakeRecord) MedicalData {
	return defaultExtractor.ExtractIntake(in)
}

type input struct {
	label    string
	typ      template.Type
	answer   response.Answer
	midpoint float64
}

// Extract maps each entry through its template item. Without a template the
// freeform rules have no labels to match and only typed items contribute.
func (e *Extractor) Extract(r *response.Record, t *template.Template) MedicalData {
	inputs := make([]input, 0, len(r.Entries))
	for _, entry := range r.Entries {
		in := input{typ: entry.QuestionType, answer: entry.Answer, midpoint: e.width / 2}
		if t != nil {
			if q, ok := t.Item(entry.QuestionID); ok {
				in.label = q.QuestionText
				if bm := q.BodyMap(); bm != nil && bm.DiagramWidth > 0 {
					in.midpoint = bm.Midpoint()
				}
			}
		}
		inputs = append(inputs, in)
	}
	return e.run(inputs)
}

// ExtractIntake converts each section field to an answer and runs the same rules
func (e *Extractor) ExtractIntake(rec *response.IntakeRecord) MedicalData {
	var inputs []input
	for _, s := range rec.Sections {
		for _, f := range s.Fields {
			typ, answer, ok := intakeAnswer(f)
			if !ok {
				continue
			}
			inputs = append(inputs, input{label: f.FieldName, typ: typ, answer: answer, midpoint: e.width / 2})
		}
	}
	return e.run(inputs)
}

func (e *Extractor) run(inputs []input) MedicalData {
	var (
		data     MedicalData
		painMax  = -1
		painText string
	)
	lists := data.Lists()

	for _, in := range inputs {
		if in.answer == nil {
			continue
		}
		switch in.typ {
		case template.TypeAllergies:
			if m, ok := in.answer.(response.MatrixAnswer); ok {
				for _, c := range m.Cells {
					data.Allergies = addUnique(data.Allergies, c.Value)
				}
			}

		case template.TypeBodyMap:
			b, ok := in.answer.(response.BodyMapAnswer)
			if !ok {
				continue
			}
			for _, m := range b.Markings {
				if part := strings.TrimSpace(m.Type); part != "" {
					side := SideRight
					if m.X < in.midpoint {
						side = SideLeft
					}
					data.BodyParts = addBodyPart(data.BodyParts, BodyPart{Part: part, Side: side})
				}
				if m.Intensity != nil && *m.Intensity > painMax {
					painMax = *m.Intensity
				}
			}

		case template.TypeDemographics:
			if o, ok := in.answer.(response.ObjectAnswer); ok {
				for k, v := range o.Fields {
					if isBlankValue(v) {
						continue
					}
					if data.Demographics == nil {
						data.Demographics = map[string]interface{}{}
					}
					data.Demographics[k] = v
				}
			}

		case template.TypePrimaryInsurance, template.TypeSecondaryInsurance:
			o, ok := in.answer.(response.ObjectAnswer)
			if !ok || len(o.Fields) == 0 {
				continue
			}
			obj := make(map[string]interface{}, len(o.Fields))
			for k, v := range o.Fields {
				obj[k] = v
			}
			if in.typ == template.TypePrimaryInsurance {
				data.PrimaryInsurance = obj
			} else {
				data.SecondaryInsurance = obj
			}

		default:
			rule, ok := e.rules.Match(in.label)
			if !ok {
				continue
			}
			values := answerStrings(in.answer)
			if rule.Scalar {
				for _, v := range values {
					if n, err := strconv.Atoi(v); err == nil {
						if n > painMax {
							painMax = n
						}
					} else {
						painText = v
					}
				}
				continue
			}
			if dst, ok := lists[rule.Field]; ok {
				*dst = addUnique(*dst, values...)
			}
		}
	}

	switch {
	case painMax >= 0:
		data.PainIntensity = strconv.Itoa(painMax)
	case painText != "":
		data.PainIntensity = painText
	}
	return data
}

// answerStrings flattens string and array answers
func answerStrings(a response.Answer) []string {
	var out []string
	switch v := a.(type) {
	case response.TextAnswer:
		out = append(out, v.Value)
	case response.ChoicesAnswer:
		out = append(out, v.Values...)
	case response.MixedAnswer:
		for _, c := range v.Controls {
			if s, ok := c.Value.(string); ok {
				out = append(out, s)
			}
		}
	}
	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

func isBlankValue(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// intakeAnswer converts a loosely typed intake field into a typed answer
func intakeAnswer(f response.Field) (template.Type, response.Answer, bool) {
	typ := f.FieldType
	if typ == "" {
		switch f.FieldValue.(type) {
		case string, float64, bool, json.Number:
			typ = template.TypeShortAnswer
		case []interface{}:
			typ = template.TypeCheckbox
		default:
			return "", nil, false
		}
	}
	d, ok := template.Lookup(typ)
	if !ok {
		return "", nil, false
	}

	switch d.Shape {
	case template.ShapeMatrix:
		cells := append([]response.MatrixCell(nil), f.MatrixValues...)
		for i, s := range stringList(f.FieldValue) {
			cells = append(cells, response.MatrixCell{RowIndex: i, Value: s})
		}
		return typ, response.MatrixAnswer{Cells: cells}, true

	case template.ShapeBodyMap:
		marks, err := f.AllMarkings()
		if err != nil {
			return "", nil, false
		}
		return typ, response.BodyMapAnswer{Markings: marks}, true

	case template.ShapeObject:
		obj, ok := f.FieldValue.(map[string]interface{})
		if !ok {
			return "", nil, false
		}
		return typ, response.ObjectAnswer{Fields: obj}, true

	case template.ShapeScalar, template.ShapeMulti:
		if _, ok := f.FieldValue.([]interface{}); ok {
			return typ, response.ChoicesAnswer{Values: stringList(f.FieldValue)}, true
		}
		if f.FieldValue == nil {
			return "", nil, false
		}
		return typ, response.TextAnswer{Value: scalarText(f.FieldValue)}, true
	}
	return "", nil, false
}

func stringList(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func scalarText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
