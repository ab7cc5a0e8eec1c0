package storage

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services/storage/aws_client"
)

// ObjectStorageService implements StorageService using S3Client. The same
// implementation serves both the user's own R2 vault bucket and any
// S3-compatible endpoint.
type ObjectStorageService struct {
	client     aws_client.S3Client
	bucketName string
}

func NewStorageService(client aws_client.S3Client, bucketName string) interfaces.StorageService {
	return &ObjectStorageService{
		client:     client,
		bucketName: bucketName,
	}
}

// NewVaultStorage builds a StorageService against the user's own R2 bucket.
func NewVaultStorage(accountID, accessKeyID, secretKey, bucket string) (interfaces.StorageService, error) {
	client, err := aws_client.NewR2Client(aws_client.R2Config{
		AccountID:       accountID,
		AccessKeyID:     accessKeyID,
		AccessKeySecret: secretKey,
		BucketName:      bucket,
	})
	if err != nil {
		return nil, err
	}
	return NewStorageService(client, bucket), nil
}

func (s *ObjectStorageService) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)
	span.SetTag("size", len(data))

	uploadInput := s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if len(metadata) > 0 {
		uploadInput.Metadata = make(map[string]*string, len(metadata))
		for k, v := range metadata {
			uploadInput.Metadata[k] = aws.String(v)
		}
	}

	err := s.client.Upload(ctx, uploadInput)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (s *ObjectStorageService) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)

	return s.client.Download(ctx, s.bucketName, key)
}

func (s *ObjectStorageService) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)

	return s.client.Delete(ctx, s.bucketName, key)
}

func (s *ObjectStorageService) List(ctx context.Context, prefix string, max int) ([]interfaces.StoredObject, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.List")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("prefix", prefix)

	objects, err := s.client.ListObjects(ctx, s.bucketName, prefix, max)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	stored := make([]interfaces.StoredObject, 0, len(objects))
	for _, obj := range objects {
		stored = append(stored, interfaces.StoredObject{
			Key:          obj.Key,
			SizeKB:       float64(obj.Size) / 1024,
			LastModified: obj.LastModified.Format(time.RFC3339),
		})
	}
	return stored, nil
}

func (s *ObjectStorageService) TestAccess(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.TestAccess")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.client.Head(ctx, s.bucketName)
}
