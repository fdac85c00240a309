package upload

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ethpandaops/runfeatures/pkg/config"
)

const preflightKey = ".runfeatures-write-test"

// objectAPI is the subset of *s3.Client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log     logrus.FieldLogger
	cfg     *config.S3UploadConfig
	client  objectAPI
	limiter *rate.Limiter
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
func NewS3Uploader(log logrus.FieldLogger, cfg *config.S3UploadConfig) Uploader {
	return newUploader(log, cfg, newS3Client(cfg))
}

func newUploader(log logrus.FieldLogger, cfg *config.S3UploadConfig, client objectAPI) *s3Uploader {
	u := &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: client,
	}

	if cfg.RequestsPerSecond > 0 {
		u.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return u
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("runfeatures write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(preflightKey),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload walks localDir and uploads all files to S3 under the configured prefix.
func (u *s3Uploader) Upload(ctx context.Context, localDir string) error {
	prefix := u.resolvePrefix(filepath.Base(filepath.Clean(localDir)))

	var count int

	err := filepath.WalkDir(localDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		relPath, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		key := prefix + "/" + filepath.ToSlash(relPath)

		if err := u.uploadFile(ctx, path, key); err != nil {
			return fmt.Errorf("uploading %s: %w", relPath, err)
		}

		count++

		return nil
	})
	if err != nil {
		return fmt.Errorf("walking directory %s: %w", localDir, err)
	}

	u.log.WithFields(logrus.Fields{
		"files":  count,
		"bucket": u.cfg.Bucket,
		"prefix": prefix,
	}).Info("Upload completed")

	return nil
}

// uploadFile uploads a single file to S3, waiting on the limiter if set.
func (u *s3Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading file")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

// resolvePrefix builds the S3 key prefix for an output directory.
func (u *s3Uploader) resolvePrefix(baseName string) string {
	prefix := u.cfg.Prefix
	if prefix == "" {
		prefix = config.DefaultS3Prefix
	}

	return strings.TrimRight(prefix, "/") + "/runs/" + baseName
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		return "application/octet-stream"
	case ".csv":
		return "text/csv"
	case ".md":
		return "text/markdown"
	}

	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
