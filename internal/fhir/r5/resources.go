package r5

import "time"

// Patient represents a FHIR R5 Patient resource.
type Patient struct {
	ResourceType         string           `json:"resourceType"`
	ID                   string           `json:"id,omitempty"`
	Meta                 *Meta            `json:"meta,omitempty"`
	Identifier           []Identifier     `json:"identifier,omitempty"`
	Active               bool             `json:"active,omitempty"`
	Name                 []HumanName      `json:"name,omitempty"`
	Telecom              []ContactPoint   `json:"telecom,omitempty"`
	Gender               string           `json:"gender,omitempty"` // male | female | other | unknown
	BirthDate            string           `json:"birthDate,omitempty"`
	DeceasedBoolean      *bool            `json:"deceasedBoolean,omitempty"`
	DeceasedDateTime     *time.Time       `json:"deceasedDateTime,omitempty"`
	Address              []Address        `json:"address,omitempty"`
	MaritalStatus        *CodeableConcept `json:"maritalStatus,omitempty"`
	MultipleBirthBoolean *bool            `json:"multipleBirthBoolean,omitempty"`
	MultipleBirthInteger *int             `json:"multipleBirthInteger,omitempty"`
	GeneralPractitioner  []Reference      `json:"generalPractitioner,omitempty"`
	ManagingOrganization *Reference       `json:"managingOrganization,omitempty"`
}

// GetOfficialName returns the patient's official name, or first available.
func (p *Patient) GetOfficialName() *HumanName {
	for i := range p.Name {
		if p.Name[i].Use == "official" {
			return &p.Name[i]
		}
	}
	if len(p.Name) > 0 {
		return &p.Name[0]
	}
	return nil
}

// GetFullName returns the patient's full name as a string.
func (p *Patient) GetFullName() string {
	name := p.GetOfficialName()
	if name == nil {
		return ""
	}
	if name.Text != "" {
		return name.Text
	}
	result := ""
	for _, g := range name.Given {
		if result != "" {
			result += " "
		}
		result += g
	}
	if name.Family != "" {
		if result != "" {
			result += " "
		}
		result += name.Family
	}
	return result
}

// GetHomeAddress returns the patient's home address.
func (p *Patient) GetHomeAddress() *Address {
	for i := range p.Address {
		if p.Address[i].Use == "home" {
			return &p.Address[i]
		}
	}
	if len(p.Address) > 0 {
		return &p.Address[0]
	}
	return nil
}

// GetPatientID returns the intake patient identifier.
func (p *Patient) GetPatientID() string {
	for _, id := range p.Identifier {
		if id.System == SystemPatientID {
			return id.Value
		}
	}
	return ""
}

// GetPhone returns the patient's primary phone number.
func (p *Patient) GetPhone() string {
	for _, t := range p.Telecom {
		if t.System == "phone" {
			return t.Value
		}
	}
	return ""
}

// AllergyIntolerance records one reported allergy.
type AllergyIntolerance struct {
	ResourceType   string           `json:"resourceType"`
	ID             string           `json:"id,omitempty"`
	Meta           *Meta            `json:"meta,omitempty"`
	ClinicalStatus *CodeableConcept `json:"clinicalStatus,omitempty"`
	Code           CodeableConcept  `json:"code"`
	Patient        Reference        `json:"patient"`
	RecordedDate   *time.Time       `json:"recordedDate,omitempty"`
}

// Condition records a problem, diagnosis or past surgery.
type Condition struct {
	ResourceType   string            `json:"resourceType"`
	ID             string            `json:"id,omitempty"`
	Meta           *Meta             `json:"meta,omitempty"`
	ClinicalStatus CodeableConcept   `json:"clinicalStatus"`
	Category       []CodeableConcept `json:"category,omitempty"`
	Code           CodeableConcept   `json:"code"`
	BodySite       []CodeableConcept `json:"bodySite,omitempty"`
	Subject        Reference         `json:"subject"`
	RecordedDate   *time.Time        `json:"recordedDate,omitempty"`
}

// MedicationStatement records a medication the patient reports taking.
type MedicationStatement struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Meta         *Meta             `json:"meta,omitempty"`
	Status       string            `json:"status"` // recorded | entered-in-error | draft
	Medication   CodeableReference `json:"medication"`
	Subject      Reference         `json:"subject"`
	DateAsserted *time.Time        `json:"dateAsserted,omitempty"`
}

// Procedure records a reported past surgery.
type Procedure struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Meta         *Meta           `json:"meta,omitempty"`
	Status       string          `json:"status"`
	Code         CodeableConcept `json:"code"`
	Subject      Reference       `json:"subject"`
}

// FamilyMemberHistory records a condition in the patient's family. Intake forms
// rarely say which relative, so Relationship defaults to family member.
type FamilyMemberHistory struct {
	ResourceType string                         `json:"resourceType"`
	ID           string                         `json:"id,omitempty"`
	Meta         *Meta                          `json:"meta,omitempty"`
	Status       string                         `json:"status"`
	Patient      Reference                      `json:"patient"`
	Relationship CodeableConcept                `json:"relationship"`
	Condition    []FamilyMemberHistoryCondition `json:"condition,omitempty"`
}

// FamilyMemberHistoryCondition is one condition of a relative
type FamilyMemberHistoryCondition struct {
	Code CodeableConcept `json:"code"`
}

// Observation carries pain scores, symptoms and marked body sites.
type Observation struct {
	ResourceType  string            `json:"resourceType"`
	ID            string            `json:"id,omitempty"`
	Meta          *Meta             `json:"meta,omitempty"`
	Status        string            `json:"status"`
	Category      []CodeableConcept `json:"category,omitempty"`
	Code          CodeableConcept   `json:"code"`
	Subject       Reference         `json:"subject"`
	ValueString   string            `json:"valueString,omitempty"`
	ValueQuantity *Quantity         `json:"valueQuantity,omitempty"`
	BodySite      *CodeableConcept  `json:"bodySite,omitempty"`
}

// Bundle is a collection of resources.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"` // collection | document | searchset
	Timestamp    time.Time     `json:"timestamp"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry wraps one resource of a bundle.
type BundleEntry struct {
	FullURL  string      `json:"fullUrl,omitempty"`
	Resource interface{} `json:"resource"`
}

// Add appends a resource under a urn:uuid full URL
func (b *Bundle) Add(id string, resource interface{}) {
	b.Entry = append(b.Entry, BundleEntry{FullURL: "urn:uuid:" + id, Resource: resource})
}

// ResourceTypes counts the bundle's entries per resourceType.
func (b *Bundle) ResourceTypes() map[string]int {
	out := map[string]int{}
	for _, e := range b.Entry {
		switch r := e.Resource.(type) {
		case *Patient:
			out[r.ResourceType]++
		case *AllergyIntolerance:
			out[r.ResourceType]++
		case *Condition:
			out[r.ResourceType]++
		case *MedicationStatement:
			out[r.ResourceType]++
		case *Procedure:
			out[r.ResourceType]++
		case *FamilyMemberHistory:
			out[r.ResourceType]++
		case *Observation:
			out[r.ResourceType]++
		case *QuestionnaireResponse:
			out[r.ResourceType]++
		}
	}
	return out
}
