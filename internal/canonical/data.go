// Package canonical extracts canonical medical data from completed forms and merges it into patient profiles.
package canonical

import (
	"encoding/json"
	"strings"

	"github.com/drfirst/go-intake/internal/domain/profile"
)

// Sides of a body part
const (
	SideLeft  = "left"
	SideRight = "right"
)

// BodyPart is a marked region
type BodyPart struct {
	Part string `json:"part"`
	Side string `json:"side"`
}

// MedicalData is the canonical fragment produced by one form
type MedicalData struct {
	Allergies     []string   `json:"allergies,omitempty"`
	Medications   []string   `json:"medications,omitempty"`
	Conditions    []string   `json:"conditions,omitempty"`
	Surgeries     []string   `json:"surgeries,omitempty"`
	FamilyHistory []string   `json:"familyHistory,omitempty"`
	Symptoms      []string   `json:"symptoms,omitempty"`
	PainQuality   []string   `json:"painQuality,omitempty"`
	BodyParts     []BodyPart `json:"bodyParts,omitempty"`
	PainIntensity string     `json:"painIntensity,omitempty"`

	Demographics       map[string]interface{} `json:"demographics,omitempty"`
	PrimaryInsurance   map[string]interface{} `json:"primaryInsurance,omitempty"`
	SecondaryInsurance map[string]interface{} `json:"secondaryInsurance,omitempty"`
}

// Lists returns pointers to the string-set fields keyed by their dynamicData name
func (d *MedicalData) Lists() map[string]*[]string {
	return map[string]*[]string{
		profile.KeyAllergies:     &d.Allergies,
		profile.KeyMedications:   &d.Medications,
		profile.KeyConditions:    &d.Conditions,
		profile.KeySurgeries:     &d.Surgeries,
		profile.KeyFamilyHistory: &d.FamilyHistory,
		profile.KeySymptoms:      &d.Symptoms,
		profile.KeyPainQuality:   &d.PainQuality,
	}
}

// IsEmpty reports whether the fragment carries nothing to merge
func (d *MedicalData) IsEmpty() bool {
	for _, l := range d.Lists() {
		if len(*l) > 0 {
			return false
		}
	}
	return len(d.BodyParts) == 0 && d.PainIntensity == "" && len(d.Demographics) == 0 &&
		d.PrimaryInsurance == nil && d.SecondaryInsurance == nil
}

// JSON encodes the fragment for the profile's form log
func (d *MedicalData) JSON() json.RawMessage {
	raw, err := json.Marshal(d)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// addUnique appends trimmed, non-empty values not already present
func addUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func addBodyPart(dst []BodyPart, bp BodyPart) []BodyPart {
	for _, have := range dst {
		if have == bp {
			return dst
		}
	}
	return append(dst, bp)
}
