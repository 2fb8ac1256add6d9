package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/contextframe/contextframe-go/models"
)

// s3Store keeps the dataset under a key prefix in an S3 bucket.
type s3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// newS3Store opens s3://bucket/prefix. Credentials come from the storage
// options map (access_key_id, secret_access_key, region, endpoint) merged
// over the SDK's default chain.
func newS3Store(ctx context.Context, rest string, opts map[string]string) (*s3Store, error) {
	parts := strings.SplitN(rest, "/", 2)
	bucket := parts[0]
	prefix := ""
	if len(parts) > 1 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	if bucket == "" {
		return nil, &models.StorageError{Op: "open", Err: errors.New("s3 URI has no bucket")}
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if ak, sk := opts["access_key_id"], opts["secret_access_key"]; ak != "" && sk != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, opts["session_token"]),
		))
	}
	if region := opts["region"]; region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &models.StorageError{Op: "open", Transient: true, Err: err}
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := opts["endpoint"]; ep != "" {
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = true
		}
	})
	return &s3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *s3Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *s3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return &models.StorageError{Op: "put", Transient: isTransientAWS(err), Err: err}
	}
	return nil
}

func (s *s3Store) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(key)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return ErrObjectExists
		}
		return &models.StorageError{Op: "put", Transient: isTransientAWS(err), Err: err}
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return nil, ErrObjectNotFound
		}
		return nil, &models.StorageError{Op: "get", Transient: isTransientAWS(err), Err: err}
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &models.StorageError{Op: "get", Transient: true, Err: err}
	}
	return data, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return &models.StorageError{Op: "delete", Transient: isTransientAWS(err), Err: err}
	}
	return nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	if !strings.HasSuffix(full, "/") {
		full += "/"
	}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full),
	}
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &models.StorageError{Op: "list", Transient: isTransientAWS(err), Err: err}
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if s.prefix != "" {
				k = strings.TrimPrefix(k, s.prefix+"/")
			}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// isTransientAWS classifies throttling and server-side failures as
// retryable.
func isTransientAWS(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout",
			"InternalError", "ServiceUnavailable":
			return true
		}
	}
	return false
}
