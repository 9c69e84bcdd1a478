package r5

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-intake/internal/canonical"
	"github.com/drfirst/go-intake/internal/domain/profile"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// resource ids are derived from the patient and the value, so re-exporting an
// unchanged profile yields the same ids
func resourceID(patientID, kind, value string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(patientID+"/"+kind+"/"+strings.ToLower(value))).String()
}

func concept(text string) CodeableConcept {
	return CodeableConcept{Text: text}
}

func coded(system, code, display string) *CodeableConcept {
	return &CodeableConcept{Coding: []Coding{{System: system, Code: code, Display: display}}, Text: display}
}

// PatientReference points at the exported Patient
func PatientReference(patientID string) Reference {
	return Reference{Reference: "Patient/" + patientID, Type: "Patient"}
}

// ProfileBundle exports the canonical part of a profile as a collection bundle.
func ProfileBundle(p *profile.Profile) *Bundle {
	subject := PatientReference(p.PatientID)
	meta := &Meta{VersionID: strconv.Itoa(p.Version), LastUpdated: p.UpdatedAt}
	updated := p.UpdatedAt
	b := &Bundle{
		ResourceType: "Bundle",
		ID:           p.ID.String(),
		Meta:         meta,
		Type:         "collection",
		Timestamp:    time.Now().UTC(),
	}

	b.Add(resourceID(p.PatientID, "Patient", ""), patient(p))

	for _, a := range canonical.Strings(p, profile.KeyAllergies) {
		id := resourceID(p.PatientID, "AllergyIntolerance", a)
		b.Add(id, &AllergyIntolerance{
			ResourceType:   "AllergyIntolerance",
			ID:             id,
			ClinicalStatus: coded(SystemAllergyClinical, StatusActive, "Active"),
			Code:           concept(a),
			Patient:        subject,
			RecordedDate:   &updated,
		})
	}

	for _, m := range canonical.Strings(p, profile.KeyMedications) {
		id := resourceID(p.PatientID, "MedicationStatement", m)
		c := concept(m)
		b.Add(id, &MedicationStatement{
			ResourceType: "MedicationStatement",
			ID:           id,
			Status:       StatusRecorded,
			Medication:   CodeableReference{Concept: &c},
			Subject:      subject,
			DateAsserted: &updated,
		})
	}

	for _, c := range canonical.Strings(p, profile.KeyConditions) {
		id := resourceID(p.PatientID, "Condition", c)
		b.Add(id, &Condition{
			ResourceType:   "Condition",
			ID:             id,
			ClinicalStatus: *coded(SystemConditionClinical, StatusActive, "Active"),
			Category:       []CodeableConcept{concept("problem-list-item")},
			Code:           concept(c),
			Subject:        subject,
			RecordedDate:   &updated,
		})
	}

	for _, s := range canonical.Strings(p, profile.KeySurgeries) {
		id := resourceID(p.PatientID, "Procedure", s)
		b.Add(id, &Procedure{
			ResourceType: "Procedure",
			ID:           id,
			Status:       StatusCompleted,
			Code:         concept(s),
			Subject:      subject,
		})
	}

	for _, f := range canonical.Strings(p, profile.KeyFamilyHistory) {
		id := resourceID(p.PatientID, "FamilyMemberHistory", f)
		b.Add(id, &FamilyMemberHistory{
			ResourceType: "FamilyMemberHistory",
			ID:           id,
			Status:       "partial",
			Patient:      subject,
			Relationship: *coded(SystemRoleCode, "FAMMEMB", "family member"),
			Condition:    []FamilyMemberHistoryCondition{{Code: concept(f)}},
		})
	}

	for _, s := range canonical.Strings(p, profile.KeySymptoms) {
		b.addObservation(p.PatientID, LOINCSymptom, "Symptom", s, nil)
	}
	for _, s := range canonical.Strings(p, profile.KeyPainQuality) {
		b.addObservation(p.PatientID, LOINCPainQuality, "Pain quality", s, nil)
	}
	for _, bp := range canonical.BodyParts(p) {
		site := concept(strings.TrimSpace(bp.Side + " " + bp.Part))
		b.addObservation(p.PatientID, LOINCBodyLocation, "Pain location", site.Text, &site)
	}
	if v, ok := p.DynamicData[profile.KeyPainIntensity]; ok && v != nil {
		b.addObservation(p.PatientID, LOINCPainSeverity, "Pain severity 0-10", fmt.Sprint(v), nil)
	}

	total := len(b.Entry)
	b.Total = &total
	return b
}

func (b *Bundle) addObservation(patientID, code, display, value string, site *CodeableConcept) {
	id := resourceID(patientID, "Observation/"+code, value)
	obs := &Observation{
		ResourceType: "Observation",
		ID:           id,
		Status:       StatusFinal,
		Category:     []CodeableConcept{*coded(SystemObservationCatalog, "survey", "Survey")},
		Code:         *coded(SystemLOINC, code, display),
		Subject:      PatientReference(patientID),
		BodySite:     site,
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil && code == LOINCPainSeverity {
		obs.ValueQuantity = &Quantity{Value: n, Unit: "{score}", System: SystemUCUM, Code: "{score}"}
	} else {
		obs.ValueString = value
	}
	b.Add(id, obs)
}

// patient maps the demographics keys merged into dynamicData
func patient(p *profile.Profile) *Patient {
	dd := p.DynamicData
	pt := &Patient{
		ResourceType: "Patient",
		ID:           p.PatientID,
		Meta:         &Meta{VersionID: strconv.Itoa(p.Version), LastUpdated: p.UpdatedAt},
		Identifier:   []Identifier{{Use: "usual", System: SystemPatientID, Value: p.PatientID}},
		Active:       true,
		BirthDate:    text(dd["dateOfBirth"]),
		Gender:       gender(text(dd["gender"])),
	}

	given, family := text(dd["firstName"]), text(dd["lastName"])
	if given != "" || family != "" {
		name := HumanName{Use: "official", Family: family}
		if given != "" {
			name.Given = []string{given}
		}
		pt.Name = []HumanName{name}
	}
	if phone := text(dd["phone"]); phone != "" {
		pt.Telecom = append(pt.Telecom, ContactPoint{System: "phone", Value: phone})
	}
	if email := text(dd["email"]); email != "" {
		pt.Telecom = append(pt.Telecom, ContactPoint{System: "email", Value: email})
	}
	if addr := text(dd["address"]); addr != "" {
		pt.Address = []Address{{Use: "home", Text: addr}}
	}
	return pt
}

func gender(v string) string {
	switch strings.ToLower(v) {
	case "":
		return ""
	case "male", "female", "other":
		return strings.ToLower(v)
	}
	return StatusUnknown
}

func text(v interface{}) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// ResponseView renders a response against its template. Display-only items are omitted.
func ResponseView(rec *response.Record, tpl *template.Template) *QuestionnaireResponse {
	qr := &QuestionnaireResponse{
		ResourceType:  "QuestionnaireResponse",
		ID:            rec.ID.String(),
		Meta:          &Meta{VersionID: strconv.Itoa(rec.Version), LastUpdated: rec.UpdatedAt},
		Questionnaire: "Questionnaire/" + rec.TemplateID.String(),
		Status:        responseStatus(rec.Status),
	}
	if rec.PatientID != "" {
		ref := PatientReference(rec.PatientID)
		qr.Subject = &ref
	}
	if rec.CompletedAt != nil {
		qr.Authored = rec.CompletedAt
	} else {
		created := rec.CreatedAt
		qr.Authored = &created
	}
	if rec.Respondent.Name != "" || rec.Respondent.UserID != "" {
		qr.Author = &Reference{Reference: rec.Respondent.UserID, Display: rec.Respondent.Name}
	}

	for _, q := range tpl.Items {
		e, ok := rec.Entry(q.StorageID)
		if !ok || e.Answer == nil || e.Answer.Empty() {
			continue
		}
		if it, ok := responseItem(q, e); ok {
			qr.Item = append(qr.Item, it)
		}
	}
	return qr
}

func responseStatus(s response.Status) string {
	switch s {
	case response.StatusIncomplete:
		return StatusInProgress
	case response.StatusReviewed:
		return StatusAmended
	}
	return StatusCompleted
}

func responseItem(q *template.Question, e response.Entry) (QuestionnaireResponseItem, bool) {
	it := QuestionnaireResponseItem{LinkID: q.StorageID, Text: q.QuestionText}

	switch a := e.Answer.(type) {
	case response.TextAnswer:
		it.Answer = []QuestionnaireResponseAnswer{scalarAnswer(q.Type, a.Value)}

	case response.ChoicesAnswer:
		for _, v := range a.Values {
			it.Answer = append(it.Answer, QuestionnaireResponseAnswer{ValueString: v})
		}

	case response.ObjectAnswer:
		labels := map[string]string{}
		var order []string
		if fg := q.FieldGroup(); fg != nil {
			for _, f := range fg.Fields {
				labels[f.FieldName] = f.Label
				order = append(order, f.FieldName)
			}
		}
		for _, name := range order {
			if v := text(a.Fields[name]); v != "" {
				it.Item = append(it.Item, QuestionnaireResponseItem{
					LinkID: q.StorageID + "." + name,
					Text:   labels[name],
					Answer: []QuestionnaireResponseAnswer{{ValueString: v}},
				})
			}
		}

	case response.MatrixAnswer:
		m := q.Matrix()
		for _, c := range a.Cells {
			if strings.TrimSpace(c.Value) == "" {
				continue
			}
			it.Item = append(it.Item, QuestionnaireResponseItem{
				LinkID: fmt.Sprintf("%s.%d.%d", q.StorageID, c.RowIndex, c.ColumnIndex),
				Text:   cellLabel(m, c),
				Answer: []QuestionnaireResponseAnswer{{ValueString: c.Value}},
			})
		}

	case response.FileAnswer:
		for _, att := range a.Attachments {
			uploaded := att.UploadedAt
			it.Answer = append(it.Answer, QuestionnaireResponseAnswer{ValueAttachment: &Attachment{
				ContentType: att.ContentType,
				URL:         att.URL,
				Size:        att.Size,
				Title:       att.FileName,
				Creation:    &uploaded,
			}})
		}

	case response.SignatureAnswer:
		signed := a.Signature.SignedAt
		it.Answer = []QuestionnaireResponseAnswer{{ValueDateTime: &signed}}
		if a.Signature.SignedBy != "" {
			it.Answer = append(it.Answer, QuestionnaireResponseAnswer{ValueString: a.Signature.SignedBy})
		}

	case response.BodyMapAnswer:
		for i, mk := range a.Markings {
			sub := QuestionnaireResponseItem{
				LinkID: fmt.Sprintf("%s.%d", q.StorageID, i),
				Text:   mk.Type,
				Answer: []QuestionnaireResponseAnswer{{ValueString: fmt.Sprintf("%.0f,%.0f", mk.X, mk.Y)}},
			}
			if mk.Intensity != nil {
				n := *mk.Intensity
				sub.Answer = append(sub.Answer, QuestionnaireResponseAnswer{ValueInteger: &n})
			}
			it.Item = append(it.Item, sub)
		}

	case response.MixedAnswer:
		mc := q.MixedControls()
		for _, c := range a.Controls {
			label := c.ControlID
			if mc != nil {
				if ctl, ok := mc.Control(c.ControlID); ok && ctl.Label != "" {
					label = ctl.Label
				}
			}
			it.Item = append(it.Item, QuestionnaireResponseItem{
				LinkID: q.StorageID + "." + c.ControlID,
				Text:   label,
				Answer: []QuestionnaireResponseAnswer{{ValueString: text(c.Value)}},
			})
		}

	default:
		return it, false
	}
	return it, len(it.Answer) > 0 || len(it.Item) > 0
}

func scalarAnswer(t template.Type, v string) QuestionnaireResponseAnswer {
	if t == template.TypeDate {
		return QuestionnaireResponseAnswer{ValueDate: v}
	}
	return QuestionnaireResponseAnswer{ValueString: v}
}

func cellLabel(m *template.MatrixConfig, c response.MatrixCell) string {
	if m == nil {
		return ""
	}
	var row, col string
	if c.RowIndex >= 0 && c.RowIndex < len(m.Rows) {
		row = m.Rows[c.RowIndex]
	}
	if c.ColumnIndex >= 0 && c.ColumnIndex < len(m.ColumnHeaders) {
		col = m.ColumnHeaders[c.ColumnIndex]
	}
	switch {
	case row == "":
		return col
	case col == "" || len(m.ColumnHeaders) == 1:
		return row
	}
	return row + " / " + col
}
