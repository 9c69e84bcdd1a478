package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/response"
	fhir "github.com/drfirst/go-intake/internal/fhir/r5"
	"github.com/drfirst/go-intake/internal/intake"
)

// IntakeRequest is the body of POST /intakes
type IntakeRequest struct {
	PatientID string             `json:"patientId"`
	FormType  string             `json:"formType,omitempty"`
	Sections  []response.Section `json:"sections"`
}

// IntakeResult is returned after an intake is stored
type IntakeResult struct {
	Intake *response.IntakeRecord `json:"intake"`
	Merge  *intake.MergeOutcome   `json:"merge,omitempty"`
}

// SubmitIntake handles POST /intakes
func (a *API) SubmitIntake(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.fail(w, r, decodeError(err))
		return
	}
	in, merge, err := a.submitter.SubmitIntake(r.Context(), req.PatientID, req.FormType, req.Sections)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/intakes/"+in.ID.String())
	respond(w, r, http.StatusCreated, IntakeResult{Intake: in, Merge: merge})
}

// GetIntake handles GET /intakes/{id}
func (a *API) GetIntake(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	in, err := a.submitter.GetIntake(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, in)
}

func patientID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return "", apperrors.Invalid("id", apperrors.CodeRequired, "patient id is required")
	}
	return id, nil
}

// GetProfile handles GET /patients/{id}/profile
func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := patientID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	p, err := a.profiles.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

// ProfileFHIR handles GET /patients/{id}/fhir
func (a *API) ProfileFHIR(w http.ResponseWriter, r *http.Request) {
	id, err := patientID(r)
	if err != nil {
		a.failFHIR(w, r, err)
		return
	}
	p, err := a.profiles.Get(r.Context(), id)
	if err != nil {
		a.failFHIR(w, r, err)
		return
	}
	a.writeFHIR(w, http.StatusOK, fhir.ProfileBundle(p))
}
