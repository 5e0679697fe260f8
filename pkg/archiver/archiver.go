// Package archiver uploads zero-ref multi-files identified by garbage
// collection to S3 before they are unlinked from local storage, so cold
// data survives even after local removal.
package archiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cobaltmail/dboxmap/internal/logger"
)

// Config holds the S3 destination and client options for archival.
type Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// Archiver uploads multi-file bodies to S3, keyed by file_id.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds an Archiver around an existing S3 client.
func New(client *s3.Client, cfg Config) *Archiver {
	return &Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

// NewFromConfig builds an S3 client from cfg and returns an Archiver.
func NewFromConfig(ctx context.Context, cfg Config) (*Archiver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archiver: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func (a *Archiver) objectKey(fileID uint32) string {
	return fmt.Sprintf("%sdbox-Mails.%d", a.prefix, fileID)
}

// Archive uploads the full body read from r under fileID's object key.
func (a *Archiver) Archive(ctx context.Context, fileID uint32, r io.Reader, size int64) error {
	key := a.objectKey(fileID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("archiver: put %s: %w", key, err)
	}
	logger.Info("archived zero-ref file to cold storage", logger.FileID(fileID), logger.Key(key), logger.Size(uint32(size)))
	return nil
}

// ArchiveBytes is a convenience wrapper for callers that already hold the
// full file body in memory.
func (a *Archiver) ArchiveBytes(ctx context.Context, fileID uint32, data []byte) error {
	return a.Archive(ctx, fileID, bytes.NewReader(data), int64(len(data)))
}

// Exists reports whether fileID has already been archived.
func (a *Archiver) Exists(ctx context.Context, fileID uint32) (bool, error) {
	key := a.objectKey(fileID)
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("archiver: head %s: %w", key, err)
	}
	return true, nil
}

// Retrieve fetches a previously archived body back from S3, for the rare
// case a file needs to be restored after local removal.
func (a *Archiver) Retrieve(ctx context.Context, fileID uint32) ([]byte, error) {
	key := a.objectKey(fileID)
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archiver: get %s: %w", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "NoSuchKey") || strings.Contains(s, "NotFound") || strings.Contains(s, "404")
}
