package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API defines the subset of the S3 client used by S3Store, enabling test mocking.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // empty uses AWS; set for MinIO or GCS interop
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store uploads recordings to an S3-compatible bucket. Keys are the
// prefix followed by the recording name.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store creates an S3Store configured from AWS defaults and opts.
// When both keys are set, static credentials replace the default chain.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)
	return NewS3StoreWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3StoreWithClient creates an S3Store with an injected S3API client (for testing).
func NewS3StoreWithClient(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// Upload puts obj into the bucket unless the key already exists.
func (s *S3Store) Upload(ctx context.Context, obj Object) (Result, error) {
	key := s.prefix + obj.Name
	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return Result{Skipped: true, Location: location}, nil
	}
	if !isNotFound(err) {
		return Result{}, fmt.Errorf("failed to check object %s: %w", key, err)
	}

	f, err := os.Open(obj.Path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open staged recording: %w", err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(obj.Size),
		ContentType:   aws.String(contentType(obj.MimeType)),
	}
	if obj.SHA256 != "" {
		input.Metadata = map[string]string{"sha256": obj.SHA256}
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Result{}, fmt.Errorf("failed to upload recording to S3: %w", err)
	}
	return Result{Location: location}, nil
}

// Close implements Store.
func (s *S3Store) Close() error { return nil }

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

func contentType(mimeType string) string {
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
