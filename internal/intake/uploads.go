package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/response"
	"github.com/drfirst/go-intake/internal/infrastructure/objectstore"
	"github.com/drfirst/go-intake/internal/observability/metrics"
	"github.com/drfirst/go-intake/pkg/circuitbreaker"
	"github.com/drfirst/go-intake/pkg/workerpool"
)

// Upload is one file received with a submission
type Upload struct {
	QuestionID  string
	FileName    string
	ContentType string
	Data        []byte
}

// StoredFile is an upload that reached the object store
type StoredFile struct {
	QuestionID string
	Attachment response.Attachment
}

// UploaderConfig sizes the upload pool
type UploaderConfig struct {
	// Bucket names the breaker guarding the object store
	Bucket  string
	Workers int
	Retries int
}

type uploadJob struct {
	responseID uuid.UUID
	file       Upload
}

// AttachmentUploader stores files on a bounded pool, one breaker per bucket.
// Each file is independent: failures are collected, never fatal to the others.
type AttachmentUploader struct {
	store    objectstore.Store
	breakers *circuitbreaker.Manager
	bucket   string
	pool     *workerpool.Pool
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAttachmentUploader creates and starts the upload pool
func NewAttachmentUploader(store objectstore.Store, breakers *circuitbreaker.Manager, cfg UploaderConfig, m *metrics.Metrics, logger *zap.Logger) (*AttachmentUploader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "attachments"
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(circuitbreaker.DefaultConfig(cfg.Bucket), logger)
	}
	u := &AttachmentUploader{
		store:    store,
		breakers: breakers,
		bucket:   cfg.Bucket,
		metrics:  m,
		logger:   logger,
	}

	poolCfg := workerpool.DefaultConfig()
	if cfg.Workers > 0 {
		poolCfg.Workers = cfg.Workers
	}
	poolCfg.MaxRetries = cfg.Retries
	poolCfg.Retryable = func(err error) bool {
		return !errors.Is(err, circuitbreaker.ErrOpen) && !errors.Is(err, context.Canceled)
	}

	pool, err := workerpool.New(poolCfg, u.work, logger)
	if err != nil {
		return nil, err
	}
	pool.Start()
	u.pool = pool
	return u, nil
}

// Upload stores every file and returns those that succeeded. When some fail the
// error is a *apperrors.PartialUploadError listing them.
func (u *AttachmentUploader) Upload(ctx context.Context, responseID uuid.UUID, files []Upload) ([]StoredFile, error) {
	if len(files) == 0 {
		return nil, nil
	}
	tasks := make([]*workerpool.Task, len(files))
	for i, f := range files {
		tasks[i] = &workerpool.Task{
			ID:      fmt.Sprintf("%s/%s/%d", responseID, f.QuestionID, i),
			Payload: &uploadJob{responseID: responseID, file: f},
			Context: ctx,
		}
	}

	var stored []StoredFile
	partial := &apperrors.PartialUploadError{ResponseID: responseID.String(), Total: len(files)}
	for i, res := range u.pool.Do(ctx, tasks) {
		if res.Success {
			stored = append(stored, StoredFile{QuestionID: files[i].QuestionID, Attachment: res.Data.(response.Attachment)})
			continue
		}
		partial.Failed = append(partial.Failed, apperrors.FailedUpload{
			QuestionID: files[i].QuestionID,
			FileName:   files[i].FileName,
			Err:        res.Error,
		})
	}
	if len(partial.Failed) > 0 {
		return stored, partial
	}
	return stored, nil
}

func (u *AttachmentUploader) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	job, ok := task.Payload.(*uploadJob)
	if !ok {
		return &workerpool.Result{Error: fmt.Errorf("unexpected payload %T", task.Payload)}
	}
	cb, err := u.breakers.Get(u.bucket)
	if err != nil {
		return &workerpool.Result{Error: err}
	}

	f := job.file
	key := objectstore.Key(job.responseID, f.QuestionID, f.FileName)
	start := time.Now()
	url, err := circuitbreaker.Do(ctx, cb, func(ctx context.Context) (string, error) {
		return u.store.Put(ctx, objectstore.Object{
			Key:         key,
			ContentType: f.ContentType,
			Size:        int64(len(f.Data)),
			Body:        bytes.NewReader(f.Data),
		})
	})
	u.observe(err, start)
	if err != nil {
		return &workerpool.Result{Error: err}
	}

	return &workerpool.Result{Success: true, Data: response.Attachment{
		FileName:    f.FileName,
		URL:         url,
		ContentType: f.ContentType,
		Size:        int64(len(f.Data)),
		StorageKey:  key,
		UploadedAt:  time.Now().UTC(),
	}}
}

func (u *AttachmentUploader) observe(err error, start time.Time) {
	if u.metrics == nil {
		return
	}
	result := "stored"
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		result = "rejected"
	case err != nil:
		result = "failed"
	}
	u.metrics.AttachmentUploads.WithLabelValues(result).Inc()
	u.metrics.UploadDuration.Observe(time.Since(start).Seconds())
}

// Breakers exposes the breaker manager for readiness reports
func (u *AttachmentUploader) Breakers() *circuitbreaker.Manager { return u.breakers }

// Close drains the pool
func (u *AttachmentUploader) Close() error {
	return u.pool.Stop()
}
