package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/api/middleware"
	"github.com/drfirst/go-intake/internal/apperrors"
	fhir "github.com/drfirst/go-intake/internal/fhir/r5"
	"github.com/drfirst/go-intake/internal/intake"
)

// multipart field names
const (
	payloadField = "payload"
	filePrefix   = "file."
)

// SubmitResponse handles POST /responses. The body is either the JSON request or a
// multipart form with the JSON in "payload" and files in "file.<questionId>" parts.
func (a *API) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	req, files, err := a.decodeSubmission(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.submitter.Submit(r.Context(), *req, files)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/responses/"+res.Response.ID.String())
	respond(w, r, http.StatusCreated, res)
}

func (a *API) decodeSubmission(w http.ResponseWriter, r *http.Request) (*intake.SubmitRequest, []intake.Upload, error) {
	req := &intake.SubmitRequest{}
	if !isMultipart(r) {
		if err := render.DecodeJSON(r.Body, req); err != nil {
			return nil, nil, decodeError(err)
		}
		return req, nil, nil
	}

	form, err := a.parseForm(w, r)
	if err != nil {
		return nil, nil, err
	}
	payload := form.Value[payloadField]
	if len(payload) == 0 {
		return nil, nil, apperrors.Invalid(payloadField, apperrors.CodeRequired, "multipart submissions need a %q field", payloadField)
	}
	if err := json.Unmarshal([]byte(payload[0]), req); err != nil {
		return nil, nil, decodeError(err)
	}
	files, err := readFiles(form)
	if err != nil {
		return nil, nil, err
	}
	return req, files, nil
}

func isMultipart(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && ct == "multipart/form-data"
}

func (a *API) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, apperrors.Invalid("body", apperrors.CodeOutOfRange, "upload exceeds %d bytes", a.maxUpload)
		}
		return nil, apperrors.Invalid("body", apperrors.CodeInvalidValue, "invalid multipart form: %v", err)
	}
	return r.MultipartForm, nil
}

// readFiles collects the "file.<questionId>" parts in a stable order
func readFiles(form *multipart.Form) ([]intake.Upload, error) {
	var files []intake.Upload
	for field, headers := range form.File {
		qid, ok := strings.CutPrefix(field, filePrefix)
		if !ok || qid == "" {
			continue
		}
		for _, fh := range headers {
			data, err := readPart(fh)
			if err != nil {
				return nil, apperrors.Invalid(field, apperrors.CodeInvalidValue, "read %s: %v", fh.Filename, err)
			}
			files = append(files, intake.Upload{
				QuestionID:  qid,
				FileName:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].QuestionID != files[j].QuestionID {
			return files[i].QuestionID < files[j].QuestionID
		}
		return files[i].FileName < files[j].FileName
	})
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// GetResponse handles GET /responses/{id}
func (a *API) GetResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rec, err := a.submitter.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, rec)
}

// CompleteResponse handles POST /responses/{id}/complete
func (a *API) CompleteResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.submitter.Complete(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
}

// ReviewResponse handles POST /responses/{id}/review. The reviewer defaults to the caller.
func (a *API) ReviewResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req reviewRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			a.fail(w, r, decodeError(err))
			return
		}
	}
	if req.Reviewer == "" {
		req.Reviewer = actor(r).ID
	}
	rec, err := a.submitter.Review(r.Context(), id, req.Reviewer)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, rec)
}

// AddAttachments handles POST /responses/{id}/attachments (multipart, "file.<questionId>" parts)
func (a *API) AddAttachments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !isMultipart(r) {
		a.fail(w, r, apperrors.Invalid("body", apperrors.CodeInvalidValue, "attachments must be sent as multipart/form-data"))
		return
	}
	form, err := a.parseForm(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	files, err := readFiles(form)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.submitter.AddAttachments(r.Context(), id, files)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

// MergeResponse handles POST /responses/{id}/merge
func (a *API) MergeResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := a.submitter.Merge(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, out)
}

// ResponseFHIR handles GET /responses/{id}/fhir
func (a *API) ResponseFHIR(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.failFHIR(w, r, err)
		return
	}
	rec, tpl, err := a.submitter.View(r.Context(), id)
	if err != nil {
		a.failFHIR(w, r, err)
		return
	}
	a.writeFHIR(w, http.StatusOK, fhir.ResponseView(rec, tpl))
}

func (a *API) writeFHIR(w http.ResponseWriter, status int, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("encode fhir resource", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// failFHIR answers FHIR routes with an OperationOutcome instead of the plain error body
func (a *API) failFHIR(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("fhir request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		msg = "internal server error"
	}
	var expr []string
	var v *apperrors.ValidationError
	if errors.As(err, &v) && v.Field != "" {
		expr = []string{v.Field}
	}
	a.writeFHIR(w, status, fhir.NewErrorOutcome(issueCode(status), msg, expr...))
}

func issueCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return fhir.IssueInvalid
	case http.StatusUnprocessableEntity:
		return fhir.IssueStructure
	case http.StatusNotFound:
		return fhir.IssueNotFound
	case http.StatusForbidden:
		return fhir.IssueForbidden
	case http.StatusConflict:
		return fhir.IssueConflict
	case http.StatusGatewayTimeout:
		return fhir.IssueTimeout
	}
	return fhir.IssueException
}
