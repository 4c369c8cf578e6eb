package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	conf "github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/errs"
)

// S3 talks to any S3-compatible endpoint (AWS, R2, GCS interoperability).
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	baseURL    string
	retry      retryPolicy
	log        *logrus.Entry
}

func NewS3(ctx context.Context, cfg conf.StorageConfig, log *logrus.Entry) (*S3, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretKey, "",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.WithFields(logrus.Fields{"endpoint": cfg.Endpoint, "region": cfg.Region}).Info("s3 client initialized")

	return &S3{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		baseURL:    cfg.PublicBaseURL,
		retry:      retryPolicy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay},
		log:        log.WithField("component", "blob-s3"),
	}, nil
}

// Upload puts payload under bucket/key, retrying with backoff. Uploading the
// same key twice overwrites it.
func (s *S3) Upload(ctx context.Context, bucket, key, contentType string, payload []byte) error {
	attempt := 0
	for {
		attempt++
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String(contentType),
		})
		if err == nil {
			return nil
		}

		err = classifyS3("blob.Upload", err)
		if errs.IsPermanent(err) || attempt > s.retry.MaxRetries {
			return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
		}

		delay := s.retry.backoff(attempt)
		s.log.WithError(err).WithFields(logrus.Fields{"key": key, "attempt": attempt, "delay": delay}).Warn("upload failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("upload %s/%s: %w", bucket, key, errs.E(errs.KindTransient, "blob.Upload", ctx.Err()))
		}
	}
}

// Download writes the object into w and returns the number of bytes written.
func (s *S3) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return n, fmt.Errorf("failed to download %q: %w", key, classifyS3("blob.Download", err))
	}
	return n, nil
}

func (s *S3) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, classifyS3("blob.Delete", err))
	}
	return nil
}

// Exists reports whether the object is present. Only a not-found answer
// yields false with a nil error.
func (s *S3) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	err = classifyS3("blob.Exists", err)
	if errs.KindOf(err) == errs.KindNotFound {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
}

func (s *S3) URL(bucket, key string) string { return ObjectURL(s.baseURL, bucket, key) }

func classifyS3(op string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return errs.E(errs.KindNotFound, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return errs.E(errs.KindNotFound, op, err)
		case "InvalidObjectName", "KeyTooLongError":
			return errs.E(errs.KindInvalidInput, op, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return errs.E(errs.KindNotFound, op, err)
	}

	return errs.E(errs.KindTransient, op, err)
}
