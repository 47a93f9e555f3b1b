// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package archive manages archived uploads in an S3-compatible bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"codeberg.org/capsera/capsera/internal/config"
	"codeberg.org/capsera/capsera/internal/services/jobs"
)

// maxDeleteBatch is the S3 limit for DeleteObjects.
const maxDeleteBatch = 1000

var (
	ErrKeyRequired    = errors.New("object key is required")
	ErrOutsideArchive = errors.New("key is not inside the archive prefix")
)

// ObjectAPI is the subset of the S3 client the service uses.
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Object is an archived file.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type Service struct {
	client        ObjectAPI
	bucket        string
	archivePrefix string
	activePrefix  string
	jobs          *jobs.Queue
	now           func() time.Time
}

// NewClient builds an S3 client for cfg. A custom endpoint switches to
// path-style addressing for MinIO and similar servers.
func NewClient(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewService wraps client. queue runs the deferred deletes of Restore; without
// one they run inline.
func NewService(client ObjectAPI, cfg config.ArchiveConfig, queue *jobs.Queue) *Service {
	archivePrefix := cfg.ArchivePrefix
	if archivePrefix == "" {
		archivePrefix = "archive/"
	}
	activePrefix := cfg.ActivePrefix
	if activePrefix == "" {
		activePrefix = "uploads/"
	}
	return &Service{
		client:        client,
		bucket:        cfg.Bucket,
		archivePrefix: archivePrefix,
		activePrefix:  activePrefix,
		jobs:          queue,
		now:           time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// List returns the archived objects whose key starts with the archive prefix
// followed by prefix.
func (s *Service) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix = s.archivePrefix + strings.TrimPrefix(prefix, s.archivePrefix)

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list archive: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

func (s *Service) checkKey(key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	if !strings.HasPrefix(key, s.archivePrefix) || key == s.archivePrefix {
		return ErrOutsideArchive
	}
	return nil
}

// Delete removes one archived object.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	slog.Info("archived object deleted", "key", key)
	return nil
}

// Restore copies key back to the active prefix and schedules the removal of
// the archived copy. The returned task reports the outcome of that removal.
func (s *Service) Restore(ctx context.Context, key string) (string, *jobs.Task, error) {
	if err := s.checkKey(key); err != nil {
		return "", nil, err
	}
	target := s.activePrefix + strings.TrimPrefix(key, s.archivePrefix)

	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + key),
		Key:        aws.String(target),
	}); err != nil {
		return "", nil, fmt.Errorf("failed to restore %s: %w", key, err)
	}
	slog.Info("archived object restored", "key", key, "target", target)

	cleanup := func(ctx context.Context) error {
		return s.Delete(ctx, key)
	}
	if s.jobs == nil {
		return target, nil, cleanup(ctx)
	}
	task, err := s.jobs.Submit("archive cleanup "+key, cleanup)
	if err != nil {
		return target, nil, fmt.Errorf("restored %s but could not schedule cleanup: %w", key, err)
	}
	return target, task, nil
}

// CleanupOlderThan deletes archived objects last modified more than age ago
// and returns their keys.
func (s *Service) CleanupOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	objects, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-age)

	var stale []string
	for _, obj := range objects {
		if obj.LastModified.Before(cutoff) {
			stale = append(stale, obj.Key)
		}
	}

	var deleted []string
	for start := 0; start < len(stale); start += maxDeleteBatch {
		batch := stale[start:min(start+maxDeleteBatch, len(stale))]
		ids := make([]types.ObjectIdentifier, len(batch))
		for i, key := range batch {
			ids[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete archive batch: %w", err)
		}
		failed := make(map[string]bool, len(out.Errors))
		for _, e := range out.Errors {
			failed[aws.ToString(e.Key)] = true
			slog.Warn("archive cleanup failed", "key", aws.ToString(e.Key), "error", aws.ToString(e.Message))
		}
		for _, key := range batch {
			if !failed[key] {
				deleted = append(deleted, key)
			}
		}
	}

	slog.Info("archive cleanup", "cutoff", cutoff, "deleted", len(deleted))
	return deleted, nil
}
