package backup

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"crm-datakeeper/internal/config"
	apperrors "crm-datakeeper/internal/errors"
	"crm-datakeeper/internal/logging"
)

// Replicator copies completed artifacts to an offsite location. Replication
// is best-effort: the orchestrator logs failures but never fails a job on them.
type Replicator interface {
	Replicate(ctx context.Context, localPath, key string) error
}

// NoopReplicator is used when replication is disabled.
type NoopReplicator struct{}

// Replicate does nothing.
func (NoopReplicator) Replicate(ctx context.Context, localPath, key string) error {
	return nil
}

// S3Replicator uploads artifacts to an S3 bucket.
type S3Replicator struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	logger   *logging.Logger
}

// NewS3Replicator creates a replicator for the configured bucket.
func NewS3Replicator(cfg *config.ReplicationConfig, logger *logging.Logger) (*S3Replicator, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
	})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create S3 session", err)
	}

	return &S3Replicator{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		logger:   logger,
	}, nil
}

// Replicate uploads the artifact under <prefix>/<key>.
func (r *S3Replicator) Replicate(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperrors.NewArtifactMissingError(localPath)
	}
	defer f.Close()

	objectKey := path.Join(r.prefix, key)
	_, err = r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	})
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to upload artifact to s3://%s/%s", r.bucket, objectKey), err)
	}

	r.logger.Infof("Replicated artifact to s3://%s/%s", r.bucket, objectKey)
	return nil
}

// NewReplicator returns the replicator matching the configuration.
func NewReplicator(cfg *config.ReplicationConfig, logger *logging.Logger) (Replicator, error) {
	if cfg == nil || !cfg.Enabled {
		return NoopReplicator{}, nil
	}
	return NewS3Replicator(cfg, logger)
}
