package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader stores rendered exports.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// S3Config describes an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// ObjectPutter is the part of *minio.Client the uploader uses.
type ObjectPutter interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Uploader uploads to one bucket through minio-go.
type S3Uploader struct {
	Client ObjectPutter
	Bucket string
	Region string
}

var _ Uploader = (*S3Uploader)(nil)

func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3Uploader{Client: client, Bucket: cfg.Bucket, Region: cfg.Region}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (u *S3Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.Client.BucketExists(ctx, u.Bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket exists: %w", err)
	}
	if !exists {
		if err := u.Client.MakeBucket(ctx, u.Bucket, minio.MakeBucketOptions{Region: u.Region}); err != nil {
			return fmt.Errorf("s3 make bucket: %w", err)
		}
	}
	return nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := u.Client.PutObject(ctx, u.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", u.Bucket, key, err)
	}
	return nil
}
