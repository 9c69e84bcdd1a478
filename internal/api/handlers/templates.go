package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/template"
	"github.com/drfirst/go-intake/internal/intake"
)

// UpdateTemplateRequest is the body of PUT /templates/{id}. Version 0 skips the stale check.
type UpdateTemplateRequest struct {
	Version int `json:"version"`
	intake.TemplateInput
}

// CreateTemplate handles POST /templates
func (a *API) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in intake.TemplateInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		a.fail(w, r, decodeError(err))
		return
	}
	t, err := a.templates.Create(r.Context(), actor(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/templates/"+t.ID.String())
	respond(w, r, http.StatusCreated, t)
}

// ListTemplates handles GET /templates?active=true&limit=50&offset=0
func (a *API) ListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := template.ListFilter{OwnerID: q.Get("owner")}
	var err error
	if v := q.Get("active"); v != "" {
		if f.ActiveOnly, err = strconv.ParseBool(v); err != nil {
			a.fail(w, r, apperrors.Invalid("active", apperrors.CodeInvalidValue, "active must be a boolean"))
			return
		}
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		a.fail(w, r, apperrors.Invalid("limit", apperrors.CodeInvalidValue, "limit must be a non-negative integer"))
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		a.fail(w, r, apperrors.Invalid("offset", apperrors.CodeInvalidValue, "offset must be a non-negative integer"))
		return
	}

	list, err := a.templates.List(r.Context(), actor(r), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{"templates": list, "count": len(list)})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperrors.Invalid("query", apperrors.CodeInvalidValue, "not a non-negative integer")
	}
	return n, nil
}

// GetTemplate handles GET /templates/{id}
func (a *API) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	t, err := a.templates.Get(r.Context(), actor(r), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, t)
}

// UpdateTemplate handles PUT /templates/{id}
func (a *API) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req UpdateTemplateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.fail(w, r, decodeError(err))
		return
	}
	t, err := a.templates.Update(r.Context(), actor(r), id, req.Version, req.TemplateInput)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, t)
}

// PatchTemplate handles PATCH /templates/{id} with an RFC 7396 merge patch
func (a *API) PatchTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	patch, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		a.badRequest(w, r, "unreadable body")
		return
	}
	t, err := a.templates.Patch(r.Context(), actor(r), id, patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /templates/{id}
func (a *API) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.templates.Delete(r.Context(), actor(r), id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
