package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Open returns the FileStore addressed by location: "s3://bucket/prefix"
// for S3, anything else is a local directory.
//
// S3 settings come from the environment: AWS_REGION (default us-east-1),
// AWS_ENDPOINT_URL for S3-compatible services (path-style addressing is
// used then), AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and
// AWS_SESSION_TOKEN.
func Open(ctx context.Context, location string) (FileStore, error) {
	if !IsRemote(location) {
		return NewLocal(location)
	}
	bucket, prefix, err := parseS3URL(location)
	if err != nil {
		return nil, err
	}
	return NewS3(newS3Client(), bucket, prefix), nil
}

// OpenFile splits location into the store holding the file and the file's
// name inside it. A local directory must already exist.
func OpenFile(ctx context.Context, location string) (FileStore, string, error) {
	if IsRemote(location) {
		bucket, key, err := parseS3URL(location)
		if err != nil {
			return nil, "", err
		}
		dir, name := path.Split(key)
		return NewS3(newS3Client(), bucket, dir), name, nil
	}
	dir, err := filepath.Abs(filepath.Dir(location))
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, "", fmt.Errorf("storage: open %s: %w", location, err)
	}
	return &Local{root: dir}, filepath.Base(location), nil
}

// IsRemote reports whether location is an s3:// URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "s3://")
}

func parseS3URL(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("storage: parse %q: %w", location, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("storage: %q has no bucket", location)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func newS3Client() *s3.Client {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	})
	opts := s3.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}
