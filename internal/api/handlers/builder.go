package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/builder"
	"github.com/drfirst/go-intake/internal/domain/template"
)

// CatalogEntry is a descriptor plus its factory configuration
type CatalogEntry struct {
	template.Descriptor
	Defaults template.Config `json:"defaults"`
}

// Catalog handles GET /catalog
func (a *API) Catalog(w http.ResponseWriter, r *http.Request) {
	descs := template.Descriptors()
	out := make([]CatalogEntry, 0, len(descs))
	for _, d := range descs {
		cfg, err := template.DefaultConfig(d.Type)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		out = append(out, CatalogEntry{Descriptor: d, Defaults: cfg})
	}
	respond(w, r, http.StatusOK, out)
}

type newQuestionRequest struct {
	Type template.Type `json:"type"`
}

// NewQuestion handles POST /builder/questions
func (a *API) NewQuestion(w http.ResponseWriter, r *http.Request) {
	var req newQuestionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.fail(w, r, decodeError(err))
		return
	}
	q, err := template.NewQuestion(req.Type)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, q)
}

type defaultCheckRequest struct {
	Question *template.Question `json:"question"`
}

// DefaultCheckResponse tells the editor whether an item is still a placeholder
type DefaultCheckResponse struct {
	IsDefault     bool `json:"isDefault"`
	DroppedOnSave bool `json:"droppedOnSave"`
}

// DefaultCheck handles POST /builder/default-check
func (a *API) DefaultCheck(w http.ResponseWriter, r *http.Request) {
	var req defaultCheckRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.fail(w, r, decodeError(err))
		return
	}
	if req.Question == nil {
		a.fail(w, r, apperrors.Invalid("question", apperrors.CodeRequired, "question is required"))
		return
	}
	respond(w, r, http.StatusOK, DefaultCheckResponse{
		IsDefault:     template.IsDefaultUnmodified(req.Question),
		DroppedOnSave: template.DroppedOnSave(req.Question),
	})
}

type reorderRequest struct {
	Items []*template.Question `json:"items"`
	Move  builder.Move         `json:"move"`
}

// Reorder handles POST /builder/reorder
func (a *API) Reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.fail(w, r, decodeError(err))
		return
	}
	items, err := builder.Reorder(req.Items, req.Move)
	if err != nil {
		a.fail(w, r, builderError(err))
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{"items": items})
}

type duplicateRequest struct {
	Items []*template.Question `json:"items"`
	Index int                  `json:"index"`
}

// Duplicate handles POST /builder/duplicate
func (a *API) Duplicate(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.fail(w, r, decodeError(err))
		return
	}
	items, dup, err := builder.Duplicate(req.Items, req.Index)
	if err != nil {
		a.fail(w, r, builderError(err))
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{"items": items, "duplicate": dup})
}

type prepareRequest struct {
	Items []*template.Question `json:"items"`
}

// Prepare handles POST /builder/prepare
func (a *API) Prepare(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.fail(w, r, decodeError(err))
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{"items": builder.PrepareForSave(req.Items)})
}

func builderError(err error) error {
	if errors.Is(err, builder.ErrItemNotFound) {
		return apperrors.Invalid("move", apperrors.CodeOutOfRange, "%s", err.Error())
	}
	return err
}

// decodeError keeps typed validation errors raised while decoding questions or
// entries and wraps everything else as a bad body
func decodeError(err error) error {
	if apperrors.IsValidation(err) {
		return err
	}
	return &apperrors.ValidationError{Field: "body", Code: apperrors.CodeInvalidValue, Message: "invalid request body", Cause: err}
}
