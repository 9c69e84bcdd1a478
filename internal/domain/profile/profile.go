// Package profile holds the patient profile that completed forms are merged into.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Canonical dynamicData keys
const (
	KeyAllergies          = "allergies"
	KeyMedications        = "medications"
	KeyConditions         = "conditions"
	KeySurgeries          = "surgeries"
	KeyFamilyHistory      = "familyHistory"
	KeySymptoms           = "symptoms"
	KeyPainQuality        = "painQuality"
	KeyBodyParts          = "bodyParts"
	KeyPainIntensity      = "painIntensity"
	KeyPrimaryInsurance   = "primaryInsurance"
	KeySecondaryInsurance = "secondaryInsurance"
)

// ListKeys are the dynamicData keys holding string sets
var ListKeys = []string{
	KeyAllergies, KeyMedications, KeyConditions, KeySurgeries, KeyFamilyHistory, KeySymptoms, KeyPainQuality,
}

// Reserved reports whether name is a canonical dynamicData key. Demographic
// fields may not use these names since merges would overwrite the canonical value.
func Reserved(name string) bool {
	switch name {
	case KeyBodyParts, KeyPainIntensity, KeyPrimaryInsurance, KeySecondaryInsurance:
		return true
	}
	for _, k := range ListKeys {
		if k == name {
			return true
		}
	}
	return false
}

// FormDataEntry is one line of the append-only submission log
type FormDataEntry struct {
	FormType  string          `json:"formType"`
	FormID    string          `json:"formId"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Profile is the canonical record for one patient
type Profile struct {
	ID          uuid.UUID              `json:"id"`
	PatientID   string                 `json:"patientId"`
	DynamicData map[string]interface{} `json:"dynamicData"`
	FormData    []FormDataEntry        `json:"formData"`
	Version     int                    `json:"version"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// New returns an empty profile for a patient
func New(patientID string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		ID:          uuid.New(),
		PatientID:   patientID,
		DynamicData: map[string]interface{}{},
		FormData:    []FormDataEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy
func (p *Profile) Clone() *Profile {
	c := *p
	c.DynamicData = make(map[string]interface{}, len(p.DynamicData))
	for k, v := range p.DynamicData {
		c.DynamicData[k] = cloneValue(v)
	}
	c.FormData = append([]FormDataEntry(nil), p.FormData...)
	return &c
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	}
	return v
}

// HasForm reports whether a submission is already in the log
func (p *Profile) HasForm(formID string) bool {
	for _, f := range p.FormData {
		if f.FormID == formID {
			return true
		}
	}
	return false
}

// AppendFormData logs a submission once; repeated form ids are ignored so merge retries stay idempotent.
func (p *Profile) AppendFormData(e FormDataEntry) bool {
	if p.HasForm(e.FormID) {
		return false
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	p.FormData = append(p.FormData, e)
	p.UpdatedAt = now
	return true
}

// ErrVersionConflict means the profile was saved by someone else after it was read.
// A merge hitting it reloads and tries again.
var ErrVersionConflict = errors.New("profile version conflict")

// Repository persists profiles keyed by patient id
type Repository interface {
	// Get returns a NotFoundError when the patient has no profile yet.
	Get(ctx context.Context, patientID string) (*Profile, error)
	// Save inserts (Version 0) or updates; it returns ErrVersionConflict when p.Version is stale.
	Save(ctx context.Context, p *Profile) error
}
