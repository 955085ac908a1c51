// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	gobreaker "github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig holds circuit breaker settings for the S3 Transfer
// Adapter, mirroring internal/eventprocessor/config.go's CircuitBreakerConfig.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Failures before opening
}

// DefaultCircuitBreakerConfig returns production defaults: five consecutive
// failures trips the breaker, which then stays open for 10s before
// admitting a trial request.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

func newCircuitBreaker(cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return gobreaker.NewCircuitBreaker[interface{}](settings)
}

// Destination is a parsed "remote:bucket/prefix"-style rclone destination
// split into the S3 endpoint/bucket/prefix triple the minio-go client wants.
type Destination struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// ParseDestination splits a "remote:bucket/prefix" string. The "remote"
// label is not resolved here: callers supply the endpoint/credentials for
// that remote out of band (flags/env), matching spec.md's treatment of the
// transfer tool as a configured external collaborator.
func ParseDestination(raw string, endpoint, accessKey, secretKey string, useSSL bool) (Destination, error) {
	_, rest, ok := strings.Cut(raw, ":")
	if !ok || rest == "" {
		return Destination{}, fmt.Errorf("invalid rclone destination %q, want remote:bucket/prefix", raw)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Destination{}, fmt.Errorf("invalid rclone destination %q: missing bucket", raw)
	}
	return Destination{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    useSSL,
		Bucket:    bucket,
		Prefix:    prefix,
	}, nil
}

// S3Adapter is the concrete Transfer Adapter binding: an S3-compatible
// client whose PutObject accepts the same io.Reader streaming contract
// spec.md requires of stream_upload.
type S3Adapter struct {
	client *minio.Client
	dest   Destination
	cb     *gobreaker.CircuitBreaker[interface{}]
}

// NewS3Adapter connects to dest.Endpoint and ensures the bucket exists.
func NewS3Adapter(ctx context.Context, dest Destination) (*S3Adapter, error) {
	client, err := minio.New(dest.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(dest.AccessKey, dest.SecretKey, ""),
		Secure: dest.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating S3 client for %s: %w", dest.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, dest.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", dest.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, dest.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", dest.Bucket, err)
		}
	}

	cb := newCircuitBreaker(DefaultCircuitBreakerConfig("s3-transfer-" + dest.Bucket))
	return &S3Adapter{client: client, dest: dest, cb: cb}, nil
}

func (a *S3Adapter) objectKey(path string) string {
	if a.dest.Prefix == "" {
		return path
	}
	return strings.TrimSuffix(a.dest.Prefix, "/") + "/" + path
}

// StreamUpload uploads r to path with PutObject's size=-1 streaming mode
// when size is unknown, so a clip larger than the download buffer still
// uploads without being fully materialized in memory first.
func (a *S3Adapter) StreamUpload(ctx context.Context, path string, r io.Reader, size int64) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		_, err := a.client.PutObject(ctx, a.dest.Bucket, a.objectKey(path), r, size, minio.PutObjectOptions{
			ContentType: "video/mp4",
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// Delete removes the object at path, treating "not found" as success per
// spec.md's purge idempotence requirement. A NoSuchKey response short
// circuits before the breaker sees it, since it is not an S3 availability
// failure.
func (a *S3Adapter) Delete(ctx context.Context, path string) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		err := a.client.RemoveObject(ctx, a.dest.Bucket, a.objectKey(path), minio.RemoveObjectOptions{})
		var errResp minio.ErrorResponse
		if errors.As(err, &errResp) && errResp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// List enumerates objects under prefix.
func (a *S3Adapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	result, err := a.cb.Execute(func() (interface{}, error) {
		var out []ObjectInfo
		for obj := range a.client.ListObjects(ctx, a.dest.Bucket, minio.ListObjectsOptions{
			Prefix:    a.objectKey(prefix),
			Recursive: true,
		}) {
			if obj.Err != nil {
				return nil, obj.Err
			}
			out = append(out, ObjectInfo{Path: obj.Key, Size: obj.Size})
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return result.([]ObjectInfo), nil
}
