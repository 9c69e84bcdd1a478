package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

// S3Config configures the S3 store
type S3Config struct {
	Bucket string
	Region string
	// Endpoint points at an S3-compatible server (MinIO, localstack); path-style addressing is used with it
	Endpoint string
	// PublicBaseURL, when set, replaces the upload location in returned URLs
	PublicBaseURL string
	MaxRetries    int
}

// S3Store uploads with s3manager so large files go up in parts
type S3Store struct {
	cfg        S3Config
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *zap.Logger
}

// NewS3Store creates a session from the default credential chain
func NewS3Store(cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}

	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithMaxRetries(cfg.MaxRetries).
		WithLogger(aws.LoggerFunc(func(args ...interface{}) {
			logger.Debug(fmt.Sprint(args...), zap.String("component", "s3-sdk"))
		}))
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}

	return &S3Store{
		cfg:        cfg,
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		logger:     logger,
	}, nil
}

var _ Store = (*S3Store)(nil)

// Put uploads one object
func (s *S3Store) Put(ctx context.Context, obj Object) (string, error) {
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(obj.Key),
		Body:   obj.Body,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}

	s.logger.Debug("uploading object",
		zap.String("bucket", s.cfg.Bucket),
		zap.String("key", obj.Key),
		zap.Int64("size", obj.Size))

	out, err := s.uploader.UploadWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", obj.Key, err)
	}
	if s.cfg.PublicBaseURL != "" {
		return joinURL(s.cfg.PublicBaseURL, obj.Key), nil
	}
	return out.Location, nil
}

// Get downloads one object into memory
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	buf := aws.NewWriteAtBuffer([]byte{})
	n, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	s.logger.Debug("downloaded object", zap.String("key", key), zap.Int64("bytes", n))
	return buf.Bytes(), nil
}
