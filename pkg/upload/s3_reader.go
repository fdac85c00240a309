package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/config"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// S3Reader fetches input objects from S3-compatible storage.
type S3Reader struct {
	log    logrus.FieldLogger
	client objectAPI
}

// NewS3Reader creates a new S3Reader from the given configuration. Only the
// connection settings of cfg are used; the bucket comes from each URL.
func NewS3Reader(log logrus.FieldLogger, cfg *config.S3UploadConfig) *S3Reader {
	return &S3Reader{
		log:    log.WithField("component", "s3-reader"),
		client: newS3Client(cfg),
	}
}

// IsS3URL reports whether raw points at an object, e.g. s3://bucket/key.csv.
func IsS3URL(raw string) bool {
	return strings.HasPrefix(raw, "s3://")
}

// ParseS3URL splits an s3://bucket/key URL.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing %q: %w", raw, err)
	}

	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not an s3://bucket/key url", raw)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%q does not name an object", raw)
	}

	return u.Host, key, nil
}

// Download copies the object at rawURL into dir and returns the local path.
// The local file keeps the object's base name so its extension still
// selects the input format.
func (r *S3Reader) Download(ctx context.Context, rawURL, dir string) (string, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return "", err
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", fmt.Errorf("%s: %w", rawURL, ErrObjectNotFound)
		}

		return "", fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	dst := filepath.Join(dir, path.Base(key))

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dst, err)
	}

	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		_ = os.Remove(dst)

		return "", fmt.Errorf("reading object %q: %w", key, err)
	}

	r.log.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"bytes":  n,
	}).Info("Downloaded input object")

	return dst, nil
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}
