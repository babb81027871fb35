/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package storage provisions the platform object store: the recording
// bucket on the S3-compatible endpoint and typed access to its contents.
package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

const defaultRequestTimeout = 5 * time.Minute

// ClientConfig holds what is needed to reach the S3-compatible endpoint.
type ClientConfig struct {
	// Endpoint is the object store URL, e.g. https://minio.hashicorp.lab:9000.
	Endpoint string
	// Region is passed through to the SDK; MinIO accepts any value.
	Region string
	// AccessKeyID and SecretAccessKey authenticate requests.
	AccessKeyID     string
	SecretAccessKey string
	// CACert pins the TLS trust anchor. Empty means system roots.
	CACert []byte
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store wraps a bucket on the platform object store.
type Store struct {
	s3Client *s3.Client
	bucket   *blob.Bucket
	name     string
}

// Open connects to the endpoint and opens the named bucket. The bucket need
// not exist yet; EnsureBucket creates it.
func Open(ctx context.Context, cfg ClientConfig, bucketName string) (*Store, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO serves buckets under the path, not a subdomain.
		o.UsePathStyle = true
	})

	bucket, err := s3blob.OpenBucketV2(ctx, s3Client, bucketName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketName, err)
	}

	return &Store{s3Client: s3Client, bucket: bucket, name: bucketName}, nil
}

// EnsureBucket creates the bucket if it is absent. An existing bucket,
// whatever its contents, satisfies the call.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.name)})
	if err == nil {
		return nil
	}

	_, err = s.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.name)})
	if err != nil {
		// A concurrent creator or a prior partial run may have won the race.
		_, headErr := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.name)})
		if headErr == nil {
			return nil
		}
		return platformerrors.WrapUnreachable(fmt.Errorf("failed to create bucket %s: %w", s.name, err))
	}
	return nil
}

// Upload stores body under key. Large objects are uploaded multipart by the
// blob layer.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(w, body)
	closeErr := w.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// Download returns a reader for the object at key. The caller closes it.
func (s *Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.bucket.NewReader(ctx, key, nil)
}

// Delete removes the object at key; absent objects are treated as deleted.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// List returns objects under prefix, sorted by key.
func (s *Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var result []ObjectInfo
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		result = append(result, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.ModTime,
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// Close releases the bucket handle.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func buildAWSConfig(ctx context.Context, cfg ClientConfig) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	httpClient, err := buildHTTPClient(cfg.CACert)
	if err != nil {
		return aws.Config{}, err
	}
	opts = append(opts, config.WithHTTPClient(httpClient))

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// buildHTTPClient adds the platform CA on top of the system roots so the
// client trusts both public endpoints and the internal MinIO certificate.
func buildHTTPClient(caCert []byte) (*http.Client, error) {
	certPool, err := x509.SystemCertPool()
	if err != nil || certPool == nil {
		certPool = x509.NewCertPool()
	}
	if len(caCert) > 0 {
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				RootCAs:    certPool,
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: defaultRequestTimeout,
	}, nil
}
