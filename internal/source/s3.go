package source

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/xerrors"
)

type s3Source struct {
	client *s3.Client
}

type S3Config struct {
	// EndpointURL overrides the S3 endpoint, e.g. for MinIO. Falls back to S3_ENDPOINT_URL.
	EndpointURL string
}

func NewS3Source(ctx context.Context, s S3Config) (Source, error) {
	var optsFunc []func(*config.LoadOptions) error

	endpointURL := s.EndpointURL
	if endpointURL == "" {
		endpointURL = os.Getenv("S3_ENDPOINT_URL")
	}
	if endpointURL != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpointURL,
				HostnameImmutable: true,
			}, nil
		})
		optsFunc = append(optsFunc, config.WithEndpointResolverWithOptions(resolver))
	}

	c, err := config.LoadDefaultConfig(ctx, optsFunc...)
	if err != nil {
		return nil, xerrors.Errorf("failed to load AWS config: %w", err)
	}
	s3Client := s3.NewFromConfig(c, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &s3Source{
		client: s3Client,
	}, nil
}

// ParseS3URL splits s3://bucket/key into bucket and key.
func ParseS3URL(url string) (string, string, error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok {
		return "", "", xerrors.Errorf("not an s3 URL: %s", url)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", xerrors.Errorf("s3 URL must name a bucket and key: %s", url)
	}
	return bucket, key, nil
}

func (s *s3Source) Get(ctx context.Context, url string) ([]byte, error) {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(result.Body); err != nil {
		return nil, xerrors.Errorf("failed to read S3 object: %w", err)
	}

	return buffer.Bytes(), nil
}
