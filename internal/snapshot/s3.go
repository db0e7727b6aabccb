package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"outletcash/backend/internal/config"
)

type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client for an S3 compatible bucket such as R2.
func NewS3Client(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Mirror copies every newly written snapshot to object storage. The
// primary store stays authoritative; upload failures are only logged.
type S3Mirror struct {
	primary Store
	client  ObjectPutter
	bucket  string
	logger  *zap.Logger
	timeout time.Duration
}

func NewS3Mirror(primary Store, client ObjectPutter, bucket string, logger *zap.Logger) *S3Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Mirror{
		primary: primary,
		client:  client,
		bucket:  bucket,
		logger:  logger.Named("snapshot-mirror"),
		timeout: 20 * time.Second,
	}
}

func (m *S3Mirror) Put(ctx context.Context, rec Record) error {
	if err := m.primary.Put(ctx, rec); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		m.logger.Warn("marshal snapshot for mirror failed", zap.Error(err))
		return nil
	}
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	key := ObjectKey(rec.Date, rec.Outlet, rec.CloseIndex)
	_, err = m.client.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		m.logger.Warn("snapshot mirror upload failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (m *S3Mirror) Get(ctx context.Context, date string, outlet string, closeIndex int) (Record, error) {
	return m.primary.Get(ctx, date, outlet, closeIndex)
}

func ObjectKey(date string, outlet string, closeIndex int) string {
	return fmt.Sprintf("snapshots/%s/%s/%d.json", date, strings.ToLower(strings.TrimSpace(outlet)), closeIndex)
}
