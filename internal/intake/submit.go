package intake

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
	"github.com/drfirst/go-intake/internal/observability/metrics"
)

// SubmitRequest is a response submission
type SubmitRequest struct {
	TemplateID uuid.UUID           `json:"templateId"`
	PatientID  string              `json:"patientId,omitempty"`
	Respondent response.Respondent `json:"respondent"`
	Entries    []response.Entry    `json:"entries"`
	Status     response.Status     `json:"status,omitempty"`
}

// SubmitResult reports what happened after the response was persisted.
// Upload and merge problems show up here, not as errors.
type SubmitResult struct {
	Response      *response.Record `json:"response"`
	FailedUploads []string         `json:"failedUploads,omitempty"`
	Merge         *MergeOutcome    `json:"merge,omitempty"`
	MergeError    string           `json:"mergeError,omitempty"`
}

// Submitter validates, persists, uploads and merges form submissions
type Submitter struct {
	templates   template.Repository
	responses   response.Repository
	uploader    *AttachmentUploader
	merger      *ProfileMerger
	inlineMerge bool
	metrics     *metrics.Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
}

// SubmitterConfig toggles the in-request merge. When off, merges happen only through the outbox.
type SubmitterConfig struct {
	InlineMerge bool
}

// NewSubmitter creates a submitter. uploader and m may be nil.
func NewSubmitter(
	templates template.Repository,
	responses response.Repository,
	uploader *AttachmentUploader,
	merger *ProfileMerger,
	cfg SubmitterConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		templates:   templates,
		responses:   responses,
		uploader:    uploader,
		merger:      merger,
		inlineMerge: cfg.InlineMerge,
		metrics:     m,
		logger:      logger,
		tracer:      otel.Tracer("submitter"),
	}
}

// Submit validates the entries against the template and persists the response.
// Files are then stored and patched in, and a completed response with a patient
// is merged into the profile. Only validation and persistence errors are returned.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest, files []Upload) (*SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "submit_response",
		trace.WithAttributes(attribute.String("template_id", req.TemplateID.String())))
	defer span.End()

	tpl, err := s.templates.Get(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	withFiles, err := fileTargets(tpl, files)
	if err != nil {
		s.countInvalid(err)
		return nil, err
	}
	entries, err := response.ValidateEntries(req.Entries, tpl, withFiles)
	if err != nil {
		s.countInvalid(err)
		return nil, err
	}

	rec, err := response.NewRecord(tpl.ID, req.PatientID, req.Respondent, entries, req.Status)
	if err != nil {
		return nil, apperrors.Invalid("status", apperrors.CodeInvalidValue, "%s", err.Error())
	}
	if err := s.responses.Create(ctx, rec); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("response_id", rec.ID.String()))
	if s.metrics != nil {
		s.metrics.ResponsesSubmitted.WithLabelValues(string(rec.Status)).Inc()
	}
	s.logger.Info("response stored",
		zap.String("response_id", rec.ID.String()),
		zap.String("template_id", tpl.ID.String()),
		zap.String("status", string(rec.Status)),
		zap.Int("files", len(files)))

	result := &SubmitResult{Response: rec}
	mergeVersion := rec.Version
	if len(files) > 0 {
		result.FailedUploads = s.attach(ctx, rec.ID, files)
		if fresh, err := s.responses.Get(ctx, rec.ID); err == nil {
			rec = fresh
			result.Response = fresh
		}
	}

	s.mergeInline(ctx, result, rec, tpl, mergeVersion)
	return result, nil
}

// fileTargets checks that every upload names a fileUpload item of the template
// and fits the item's file type and size limits
func fileTargets(tpl *template.Template, files []Upload) (map[string]bool, error) {
	targets := make(map[string]bool, len(files))
	for _, f := range files {
		q, ok := tpl.Item(f.QuestionID)
		if !ok {
			return nil, apperrors.Invalid("file."+f.QuestionID, apperrors.CodeInvalidValue,
				"question %s is not part of template %s", f.QuestionID, tpl.ID)
		}
		if q.Type != template.TypeFileUpload {
			return nil, apperrors.Invalid("file."+f.QuestionID, apperrors.CodeShapeMismatch,
				"question %s of type %s does not take files", f.QuestionID, q.Type)
		}
		if err := q.File().CheckUpload("file."+f.QuestionID, f.FileName, len(f.Data)); err != nil {
			return nil, err
		}
		targets[f.QuestionID] = true
	}
	return targets, nil
}

// attach uploads files and patches each stored one into the response. It returns
// the names of files that did not make it.
func (s *Submitter) attach(ctx context.Context, id uuid.UUID, files []Upload) []string {
	if s.uploader == nil {
		s.logger.Error("files received but no object store is configured", zap.String("response_id", id.String()))
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.FileName
		}
		return names
	}

	stored, err := s.uploader.Upload(ctx, id, files)
	var failed []string
	var partial *apperrors.PartialUploadError
	if errors.As(err, &partial) {
		s.logger.Error("some attachments were not stored",
			zap.String("response_id", id.String()),
			zap.Error(err))
		for _, f := range partial.Failed {
			failed = append(failed, f.FileName)
		}
	}

	for _, sf := range stored {
		if err := s.responses.AddAttachment(ctx, id, sf.QuestionID, sf.Attachment); err != nil {
			s.logger.Error("stored attachment could not be recorded",
				zap.String("response_id", id.String()),
				zap.String("question_id", sf.QuestionID),
				zap.String("storage_key", sf.Attachment.StorageKey),
				zap.Error(err))
			failed = append(failed, sf.Attachment.FileName)
		}
	}
	return failed
}

func (s *Submitter) mergeInline(ctx context.Context, result *SubmitResult, rec *response.Record, tpl *template.Template, version int) {
	if !s.inlineMerge || s.merger == nil || !rec.Mergeable() {
		return
	}
	outcome, err := s.merger.mergeAt(ctx, rec, tpl, version)
	if err != nil {
		// the outbox relay retries the merge
		s.logger.Error("inline profile merge failed",
			zap.String("response_id", rec.ID.String()),
			zap.String("patient_id", rec.PatientID),
			zap.Error(err))
		result.MergeError = err.Error()
		return
	}
	result.Merge = outcome
}

// Get loads a response
func (s *Submitter) Get(ctx context.Context, id uuid.UUID) (*response.Record, error) {
	return s.responses.Get(ctx, id)
}

// View loads a response together with the template it answers
func (s *Submitter) View(ctx context.Context, id uuid.UUID) (*response.Record, *template.Template, error) {
	rec, err := s.responses.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	tpl, err := s.templates.Get(ctx, rec.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	return rec, tpl, nil
}

// Complete moves an incomplete response to completed and merges it
func (s *Submitter) Complete(ctx context.Context, id uuid.UUID) (*SubmitResult, error) {
	rec, err := s.responses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.Complete(); err != nil {
		return nil, apperrors.Conflict("response", "%s", err.Error())
	}
	if err := s.responses.Update(ctx, rec); err != nil {
		return nil, err
	}
	result := &SubmitResult{Response: rec}
	s.mergeInline(ctx, result, rec, nil, rec.Version)
	return result, nil
}

// Review marks a completed response as reviewed
func (s *Submitter) Review(ctx context.Context, id uuid.UUID, reviewer string) (*response.Record, error) {
	if reviewer == "" {
		return nil, apperrors.Invalid("reviewer", apperrors.CodeRequired, "reviewer is required")
	}
	rec, err := s.responses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.Review(reviewer); err != nil {
		return nil, apperrors.Conflict("response", "%s", err.Error())
	}
	if err := s.responses.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AddAttachments uploads more files to an existing response
func (s *Submitter) AddAttachments(ctx context.Context, id uuid.UUID, files []Upload) (*SubmitResult, error) {
	if len(files) == 0 {
		return nil, apperrors.Invalid("files", apperrors.CodeRequired, "at least one file is required")
	}
	rec, err := s.responses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.Get(ctx, rec.TemplateID)
	if err != nil {
		return nil, err
	}
	if _, err := fileTargets(tpl, files); err != nil {
		s.countInvalid(err)
		return nil, err
	}
	for _, f := range files {
		if _, ok := rec.Entry(f.QuestionID); !ok {
			return nil, apperrors.Invalid("file."+f.QuestionID, apperrors.CodeInvalidValue,
				"response %s has no entry for %s", id, f.QuestionID)
		}
	}

	failed := s.attach(ctx, id, files)
	fresh, err := s.responses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Response: fresh, FailedUploads: failed}, nil
}

// Merge re-runs the profile merge of a response
func (s *Submitter) Merge(ctx context.Context, id uuid.UUID) (*MergeOutcome, error) {
	if s.merger == nil {
		return nil, errors.New("profile merging is not configured")
	}
	return s.merger.MergeResponse(ctx, id)
}

// SubmitIntake persists an intake record and merges it
func (s *Submitter) SubmitIntake(ctx context.Context, patientID, formType string, sections []response.Section) (*response.IntakeRecord, *MergeOutcome, error) {
	in, err := response.NewIntakeRecord(patientID, formType, sections)
	if err != nil {
		s.countInvalid(err)
		return nil, nil, err
	}
	if err := s.responses.CreateIntake(ctx, in); err != nil {
		return nil, nil, err
	}
	s.logger.Info("intake stored", zap.String("intake_id", in.ID.String()), zap.String("patient_id", patientID))

	if !s.inlineMerge || s.merger == nil {
		return in, nil, nil
	}
	outcome, err := s.merger.MergeIntake(ctx, in)
	if err != nil {
		s.logger.Error("inline intake merge failed",
			zap.String("intake_id", in.ID.String()),
			zap.String("patient_id", patientID),
			zap.Error(err))
		return in, nil, nil
	}
	return in, outcome, nil
}

// GetIntake loads an intake record
func (s *Submitter) GetIntake(ctx context.Context, id uuid.UUID) (*response.IntakeRecord, error) {
	return s.responses.GetIntake(ctx, id)
}

func (s *Submitter) countInvalid(err error) {
	if s.metrics == nil {
		return
	}
	var v *apperrors.ValidationError
	if errors.As(err, &v) {
		s.metrics.ValidationFailures.WithLabelValues(v.Code).Inc()
	}
}
