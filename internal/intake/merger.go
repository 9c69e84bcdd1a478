// Package intake wires the domain packages into the operations the API and the
// background processes run: template management, response submission with
// attachment uploads, and merging completed forms into patient profiles.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/canonical"
	"github.com/drfirst/go-intake/internal/domain/profile"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/domain/template"
	"github.com/drfirst/go-intake/internal/infrastructure/lock"
	"github.com/drfirst/go-intake/internal/observability/metrics"
	"github.com/drfirst/go-intake/pkg/idempotency"
)

const mergeHandler = "profile-merger"

// MergerConfig tunes the merger
type MergerConfig struct {
	// MaxAttempts bounds reload-and-retry rounds on profile version conflicts
	MaxAttempts int
	// DiagramWidth is the body map width for templates that do not set one
	DiagramWidth float64
}

// MergeOutcome describes one merge
type MergeOutcome struct {
	PatientID string                `json:"patientId"`
	FormID    string                `json:"formId"`
	Version   int                   `json:"profileVersion"`
	Duplicate bool                  `json:"duplicate"`
	Skipped   bool                  `json:"skipped,omitempty"`
	Data      canonical.MedicalData `json:"data"`
}

// ProfileMerger folds completed forms into patient profiles. Every merge runs
// through the inbox keyed by form id and version, under the patient lock.
type ProfileMerger struct {
	templates template.Repository
	responses response.Repository
	profiles  profile.Repository
	inbox     *idempotency.Inbox
	locker    lock.Locker
	extractor *canonical.Extractor
	cfg       MergerConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewProfileMerger creates a merger. m may be nil.
func NewProfileMerger(
	templates template.Repository,
	responses response.Repository,
	profiles profile.Repository,
	inbox *idempotency.Inbox,
	locker lock.Locker,
	cfg MergerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ProfileMerger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &ProfileMerger{
		templates: templates,
		responses: responses,
		profiles:  profiles,
		inbox:     inbox,
		locker:    locker,
		extractor: canonical.NewExtractor(canonical.WithDiagramWidth(cfg.DiagramWidth)),
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("profile-merger"),
	}
}

// MergeResponse loads a response and merges it at its current version
func (m *ProfileMerger) MergeResponse(ctx context.Context, id uuid.UUID) (*MergeOutcome, error) {
	rec, err := m.responses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.MergeRecord(ctx, rec, nil)
}

// MergeRecord merges a loaded response. tpl is loaded when nil.
func (m *ProfileMerger) MergeRecord(ctx context.Context, rec *response.Record, tpl *template.Template) (*MergeOutcome, error) {
	return m.mergeAt(ctx, rec, tpl, rec.Version)
}

// mergeAt keys the merge by the version the response was completed at, so the
// inline merge and the relayed event dedupe against each other.
func (m *ProfileMerger) mergeAt(ctx context.Context, rec *response.Record, tpl *template.Template, version int) (*MergeOutcome, error) {
	if !rec.Mergeable() {
		return &MergeOutcome{PatientID: rec.PatientID, FormID: rec.ID.String(), Skipped: true}, nil
	}
	if tpl == nil {
		var err error
		if tpl, err = m.templates.Get(ctx, rec.TemplateID); err != nil {
			return nil, err
		}
	}
	data := m.extractor.Extract(rec, tpl)
	key := idempotency.GenerateKey("response", rec.ID.String(), strconv.Itoa(version))
	return m.apply(ctx, key, rec.PatientID, tpl.Title, rec.ID.String(), data)
}

// MergeIntake merges an intake record. Intake records never change, so the key has a fixed version.
func (m *ProfileMerger) MergeIntake(ctx context.Context, in *response.IntakeRecord) (*MergeOutcome, error) {
	data := m.extractor.ExtractIntake(in)
	key := idempotency.GenerateKey("intake", in.ID.String(), "1")
	return m.apply(ctx, key, in.PatientID, in.FormType, in.ID.String(), data)
}

// HandleEvent merges the form named by a ResponseCompleted or IntakeSubmitted event.
// Events of other types are ignored.
func (m *ProfileMerger) HandleEvent(ctx context.Context, ev *response.Event) error {
	id, err := uuid.Parse(ev.AggregateID)
	if err != nil {
		return apperrors.Invalid("aggregateId", apperrors.CodeInvalidValue, "aggregate id %q is not a uuid", ev.AggregateID)
	}

	switch ev.EventType {
	case response.EventResponseCompleted:
		rec, err := m.responses.Get(ctx, id)
		if err != nil {
			return err
		}
		version := ev.Version
		if version <= 0 {
			version = rec.Version
		}
		_, err = m.mergeAt(ctx, rec, nil, version)
		return ignoreInProgress(err)

	case response.EventIntakeSubmitted:
		in, err := m.responses.GetIntake(ctx, id)
		if err != nil {
			return err
		}
		_, err = m.MergeIntake(ctx, in)
		return ignoreInProgress(err)
	}
	return nil
}

// a merge already running elsewhere will finish the job
func ignoreInProgress(err error) error {
	if errors.Is(err, idempotency.ErrMessageInProgress) {
		return nil
	}
	return err
}

func (m *ProfileMerger) apply(ctx context.Context, key, patientID, formType, formID string, data canonical.MedicalData) (*MergeOutcome, error) {
	ctx, span := m.tracer.Start(ctx, "merge_profile",
		trace.WithAttributes(
			attribute.String("patient_id", patientID),
			attribute.String("form_id", formID),
		))
	defer span.End()

	start := time.Now()
	payload := data.JSON()
	outcome := &MergeOutcome{PatientID: patientID, FormID: formID, Data: data}

	res, err := m.inbox.Process(ctx, key, mergeHandler, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		version, err := m.save(ctx, patientID, formType, formID, data, payload)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]int{"profileVersion": version})
	})
	m.observe(err, res, start)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, idempotency.ErrMessageInProgress) {
			return nil, err
		}
		return nil, &apperrors.MergeError{ResponseID: formID, PatientID: patientID, Cause: err}
	}

	outcome.Duplicate = res.Duplicate
	var stored struct {
		ProfileVersion int `json:"profileVersion"`
	}
	if len(res.Result) > 0 && json.Unmarshal(res.Result, &stored) == nil {
		outcome.Version = stored.ProfileVersion
	}

	m.logger.Info("profile merged",
		zap.String("patient_id", patientID),
		zap.String("form_id", formID),
		zap.Bool("duplicate", res.Duplicate),
		zap.Int("profile_version", outcome.Version))
	return outcome, nil
}

// save reloads and retries when another writer moved the profile on
func (m *ProfileMerger) save(ctx context.Context, patientID, formType, formID string, data canonical.MedicalData, raw json.RawMessage) (int, error) {
	release, err := m.locker.Obtain(ctx, lock.PatientKey(patientID))
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("release profile lock", zap.String("patient_id", patientID), zap.Error(err))
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		current, err := m.profiles.Get(ctx, patientID)
		if apperrors.IsNotFound(err) {
			current, err = profile.New(patientID), nil
		}
		if err != nil {
			return 0, err
		}

		merged := canonical.MergeIntoProfile(current, data)
		merged.AppendFormData(profile.FormDataEntry{FormType: formType, FormID: formID, Data: raw})

		err = m.profiles.Save(ctx, merged)
		if err == nil {
			return merged.Version, nil
		}
		if !errors.Is(err, profile.ErrVersionConflict) {
			return 0, err
		}
		lastErr = err
		m.logger.Debug("profile moved on, retrying merge",
			zap.String("patient_id", patientID),
			zap.Int("attempt", attempt))
	}
	return 0, fmt.Errorf("gave up after %d attempts: %w", m.cfg.MaxAttempts, lastErr)
}

func (m *ProfileMerger) observe(err error, res *idempotency.ProcessResult, start time.Time) {
	if m.metrics == nil {
		return
	}
	result := "merged"
	switch {
	case err != nil:
		result = "failed"
	case res.Duplicate:
		result = "duplicate"
	}
	m.metrics.ProfileMerges.WithLabelValues(result).Inc()
	m.metrics.MergeDuration.Observe(time.Since(start).Seconds())
}
